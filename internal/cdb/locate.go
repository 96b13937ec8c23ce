package cdb

import (
	"os"
	"os/exec"

	"github.com/zhubert/windbg-mcp/internal/errors"
)

// executableName is what we look for on PATH when no install is found.
const executableName = "cdb.exe"

// defaultInstallPaths are the known CDB install locations, checked in order.
var defaultInstallPaths = []string{
	// Windows 11/10 SDK
	`C:\Program Files (x86)\Windows Kits\10\Debuggers\x64\cdb.exe`,
	`C:\Program Files (x86)\Windows Kits\10\Debuggers\x86\cdb.exe`,
	`C:\Program Files (x86)\Windows Kits\10\Debuggers\arm64\cdb.exe`,
	// Windows 8.1 SDK
	`C:\Program Files (x86)\Windows Kits\8.1\Debuggers\x64\cdb.exe`,
	`C:\Program Files (x86)\Windows Kits\8.1\Debuggers\x86\cdb.exe`,
	// WinDbg Preview from the Microsoft Store
	`C:\Program Files\WindowsApps\Microsoft.WinDbg_1.2306.14001.0_x64__8wekyb3d8bbwe\cdb.exe`,
	// Legacy Debugging Tools for Windows
	`C:\Program Files\Debugging Tools for Windows (x64)\cdb.exe`,
	`C:\Program Files (x86)\Debugging Tools for Windows (x86)\cdb.exe`,
}

// FindExecutable locates the CDB executable. An explicit override is checked
// first and must exist; otherwise the known install locations are probed in
// order, and finally PATH is scanned.
func FindExecutable(override string) (string, error) {
	if override != "" {
		if isFile(override) {
			return override, nil
		}
		return "", errors.ExecutableNotFound()
	}

	for _, path := range defaultInstallPaths {
		if isFile(path) {
			return path, nil
		}
	}

	if path, err := exec.LookPath(executableName); err == nil {
		return path, nil
	}

	return "", errors.ExecutableNotFound()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
