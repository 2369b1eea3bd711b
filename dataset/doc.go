// Package dataset prepares labeled digit images for the segmentation model.
//
// Source images are framed to the bounding box of their ink, padded back to
// a fixed frame at a random offset and paired with a per-pixel label mask.
// Records live in a SQLite database guarded by an exclusive writer lock, and
// DecodeBatch turns stored records into the tensors nn.Model consumes.
package dataset
