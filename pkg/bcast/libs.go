package bcast

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
)

var lddLineRE = regexp.MustCompile(`=>\s+(\S+)\s+\(0x`)

// SharedLibraries shells out to ldd to list the shared objects binPath
// depends on, matching the original sbcast --send-libs implementation,
// which shells out to an external library-listing tool rather than
// parsing ELF dynamic sections itself.
func SharedLibraries(ctx context.Context, binPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "ldd", binPath)
	out, err := cmd.Output()
	if err != nil {
		return nil, ridgeerr.Wrap(ridgeerr.CodeTransport, "list shared libraries", err)
	}

	var libs []string
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := sc.Text()
		if m := lddLineRE.FindStringSubmatch(line); m != nil {
			libs = append(libs, m[1])
		}
	}
	return libs, nil
}

// SendFileWithLibs broadcasts srcPath and, if sendLibs is set, every
// shared library it links against (skipping any path present in
// exclude), each to destDir under its base name. Order of the library
// broadcasts is unspecified, matching spec §4.2; one failure aborts the
// whole batch rather than broadcasting a partial set.
func (b *Broadcaster) SendFileWithLibs(ctx context.Context, srcPath, destPath string, opts Options, sendLibs bool, destDir string, exclude map[string]bool) ([]string, error) {
	if err := b.SendFile(ctx, srcPath, destPath, opts); err != nil {
		return nil, err
	}
	if !sendLibs {
		return nil, nil
	}
	libs, err := SharedLibraries(ctx, srcPath)
	if err != nil {
		return nil, err
	}
	var sent []string
	for _, lib := range libs {
		if exclude[lib] {
			continue
		}
		dest := destDir + "/" + libBaseName(lib)
		if err := b.SendFile(ctx, lib, dest, opts); err != nil {
			return sent, err
		}
		sent = append(sent, lib)
	}
	return sent, nil
}

func libBaseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
