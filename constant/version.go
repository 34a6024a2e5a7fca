package constant

// Version is set at build time with
// -ldflags "-X github.com/pmkol/mosproxy/constant.Version=..."
var Version = "dev"
