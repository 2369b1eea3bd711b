// Command capseg builds, inspects and runs capsule segmentation models.
//
//	capseg config sample              print the annotated sample configuration
//	capseg summary                    layer shapes and parameter counts
//	capseg init --out W.safetensors   initialize and save weights
//	capseg convert --src DIR          store a digit archive as records
//	capseg segment                    segment stored records and score them
package main
