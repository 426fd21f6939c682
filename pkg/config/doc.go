// Package config loads model definitions and orchestrator settings.
//
// Model definitions are the compiler output fed to engine.Orchestrator.ApplyModel. They can be
// written in CUE, YAML or JSON and share one structure:
//
//	version: 2
//	resources: {
//		"std::File[web1,path=/etc/motd]": {
//			attributes: {path: "/etc/motd", content: "welcome"}
//		}
//		"std::Service[web1,name=nginx]": {
//			attributes: {name: "nginx", port: int}
//			requires: ["std::File[web1,path=/etc/motd]"]
//		}
//	}
//
// Resources may also be given as a list whose entries carry an id field. In CUE, a resource
// whose attributes are not concrete (port above) is loaded as undefined; YAML and JSON set
// undefined explicitly.
//
// Settings are read from a YAML file on top of DefaultSettings. Watcher re-applies a model
// file every time it changes.
package config
