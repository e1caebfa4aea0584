// Package dynlib opens native shared libraries at runtime without cgo.
//
// On Linux, macOS and FreeBSD it uses purego's dlopen/dlsym; on Windows it
// uses LoadDLL from golang.org/x/sys/windows. Resolved symbols are bound to
// typed Go func variables with purego.RegisterFunc, which is what lets the
// nvml package call entry points through ordinary Go function values.
package dynlib
