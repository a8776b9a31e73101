package version

// Version of both syncwave binaries, set at release time with
//
//	-ldflags="-X 'github.com/BioHazard786/syncwave/internal/version.Version=v1.0.0'"
var Version = "dev"
