// Package imageprocessor turns encoded images into embeddings with an OpenCV
// DNN backbone.
//
// The backbone is a pretrained classifier read through gocv.ReadNet. Features
// come from BackboneConfig.OutputLayer; when that is empty Forward returns the
// last layer, so the model must have had its classification head removed.
// For a stock MobileNet v1 set OutputLayer to its global average pool layer
// (the layer name depends on the export format) to get 1024 features.
//
// Every gocv.Mat created here is closed before the function that created it
// returns; only plain Go slices leave the package.
package imageprocessor
