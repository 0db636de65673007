//go:build !darwin && !linux

package storage

func statFSType(string) (string, error) {
	return "", errProbeUnsupported
}
