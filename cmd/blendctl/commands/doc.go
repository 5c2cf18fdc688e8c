// Package commands implements the blendctl command tree: listing installed
// algorithms, writing a configuration template, importing exposure frames
// and manifests, running the pipeline and inspecting stored runs.
package commands
