package utils

// Version is set at build time with -ldflags "-X github.com/cloud66-oss/iphub/utils.Version=..."
var Version = "dev"
