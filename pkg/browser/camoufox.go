package browser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ErrNoCamoufox is returned when no Camoufox binary can be found. Stock
// Firefox ignores the CAMOU_CONFIG transport, so it is never launched in
// its place.
var ErrNoCamoufox = errors.New("camoufox browser not found")

// CamoufoxPath returns where 'camoufox fetch' installs the browser for
// goos, given the user cache directory.
func CamoufoxPath(goos, cacheDir string) string {
	switch goos {
	case "windows":
		return filepath.Join(cacheDir, "camoufox", "camoufox", "Cache", "camoufox.exe")
	case "darwin":
		return filepath.Join(cacheDir, "camoufox", "Camoufox.app", "Contents", "MacOS", "camoufox")
	default:
		return filepath.Join(cacheDir, "camoufox", "camoufox-bin")
	}
}

// FindCamoufox returns the installed Camoufox binary for this host.
func FindCamoufox() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoCamoufox, err)
	}
	path := CamoufoxPath(runtime.GOOS, cacheDir)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w at %s; install it with 'python -m camoufox fetch' or set browser.executable_path", ErrNoCamoufox, path)
	}
	return path, nil
}
