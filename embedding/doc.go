// Package embedding loads the precomputed embedding matrix that the decoder
// is trained on and provides the host-side preprocessing applied to every
// batch: L2 normalization, rescaling to a fixed magnitude and Gaussian
// perturbation. Rows are served through a shuffling Loader that is rebuilt
// for each epoch.
package embedding
