// Package plugins hosts the algorithm plugin subpackages. It holds no
// runtime code itself; the architecture guard test lives here.
//
// Plugins build against pkg/domain, pkg/pipelineapi and pkg/resultapi only.
// The subpackage plugins/testhelper renders synthetic scenes for plugin
// tests and is not imported by production plugin code.
package plugins
