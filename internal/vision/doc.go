// Package vision holds the camera and model capabilities the capture loop
// depends on: frame sources, landmark extraction, face embeddings, identity
// matching, and the annotated overlay drawn on streamed frames.
//
// Model inference runs outside this process. Sidecar implements both
// LandmarkExtractor and Embedder against an HTTP inference service, and
// MJPEGSource reads frames from a network camera.
package vision
