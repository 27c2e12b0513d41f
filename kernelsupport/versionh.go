package kernelsupport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HeadersPathEnv is the environment variable which overrides the location of the linux headers
const HeadersPathEnv = "LINUX_HEADERS_PATH"

const defaultHeadersPath = "/usr/include"

// ErrNoVersionCode is returned when a version header contains no usable version defines
var ErrNoVersionCode = errors.New("no LINUX_VERSION_CODE define found")

// HeadersPath returns the include directory of the linux headers. If LINUX_HEADERS_PATH is set its "include"
// sub directory is used, otherwise /usr/include.
func HeadersPath() string {
	if path := os.Getenv(HeadersPathEnv); path != "" {
		return filepath.Join(path, "include")
	}

	return defaultHeadersPath
}

// VersionHeaderPath returns the path to linux/version.h within HeadersPath
func VersionHeaderPath() string {
	return filepath.Join(HeadersPath(), "linux", "version.h")
}

// ReadVersionHeader reads the kernel version from a linux/version.h file.
func ReadVersionHeader(path string) (KernelVersion, error) {
	file, err := os.Open(path)
	if err != nil {
		return KernelVersion{}, fmt.Errorf("open version header: %w", err)
	}
	defer file.Close()

	version, err := ParseVersionHeader(file)
	if err != nil {
		return KernelVersion{}, fmt.Errorf("parse '%s': %w", path, err)
	}

	return version, nil
}

// ParseVersionHeader parses the contents of linux/version.h. The explicit LINUX_VERSION_MAJOR,
// LINUX_VERSION_PATCHLEVEL and LINUX_VERSION_SUBLEVEL defines are preferred since LINUX_VERSION_CODE clamps the
// sublevel to 255.
func ParseVersionHeader(r io.Reader) (KernelVersion, error) {
	defines := make(map[string]int)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != "#define" {
			continue
		}

		value, err := strconv.Atoi(fields[2])
		if err != nil {
			// Function like macros such as KERNEL_VERSION(a,b,c)
			continue
		}

		defines[fields[1]] = value
	}
	if err := scanner.Err(); err != nil {
		return KernelVersion{}, fmt.Errorf("scan: %w", err)
	}

	major, hasMajor := defines["LINUX_VERSION_MAJOR"]
	patch, hasPatch := defines["LINUX_VERSION_PATCHLEVEL"]
	sub, hasSub := defines["LINUX_VERSION_SUBLEVEL"]
	if hasMajor && hasPatch && hasSub {
		return KernelVersion{Major: major, Patch: patch, Sublevel: sub}, nil
	}

	code, ok := defines["LINUX_VERSION_CODE"]
	if !ok {
		return KernelVersion{}, ErrNoVersionCode
	}

	return KernelVersion{
		Major:    code >> 16,
		Patch:    (code >> 8) & 0xff,
		Sublevel: code & 0xff,
	}, nil
}
