// Package studio implements the three build drivers of spec.md §4.I:
// Native, Bootstrap and Standard, each preparing a sandboxed workspace
// and invoking an external build tool, capturing its output into a
// rotating log file. Grounded on internal/build/mount.go and userns.go's
// "prepare a sandboxed workspace, then invoke an external tool" shape,
// generalized from distri's squashfs-mount sandbox to a plain
// directory-per-worker workspace since the build-image format itself is
// out of this spec's scope.
package studio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/habpkg/autobuild/internal/depgraph"
	"github.com/habpkg/autobuild/internal/schedule"
	"github.com/habpkg/autobuild/internal/store"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/xerrors"
)

// Kind selects which of the three drivers to use for a recipe, per
// spec.md §4.H "selecting the studio driver for a node".
type Kind int

const (
	NativeKind Kind = iota
	BootstrapKind
	StandardKind
)

// unreachableDepotHost is substituted for the real build depot URL when
// AllowRemote is false, per spec.md §4.I "disable the remote build depot
// by setting the depot URL to a non-existent host".
const unreachableDepotHost = "http://depot.invalid:0"

// Config parameterizes every driver per spec.md §4.I's
// (recipe_context, prebuilt_deps, allow_remote) triple.
type Config struct {
	HabBinary       string // path to the "hab" build tool, defaults to "hab"
	HabStudioBinary string // path to "hab-studio", defaults to "hab-studio"
	WorkRoot        string // per-worker scratch root
	SuccessLogDir   string
	FailureLogDir   string
	AllowRemote     bool
	DepotURL        string
	Store           store.Store // records per-build durations, per spec.md §6 "build_times"; nil disables recording
}

// keepUncompressedLogs is how many of the most recent logs in each of
// SuccessLogDir/FailureLogDir are left as plain text; older ones are
// gzip-compressed in place. maxRetainedLogs bounds how many log files
// (compressed or not) survive rotation before the oldest are deleted.
const (
	keepUncompressedLogs = 5
	maxRetainedLogs      = 200
)

// Driver is one configured studio driver for a single node.
type Driver struct {
	Kind          Kind
	Cfg           Config
	RecipeContext string      // the recipe directory to build
	PrebuiltDeps  []string    // paths of prebuilt dependency artifacts to seed into the workspace
	Transitive    []string    // transitive dep identities, for HAB_STUDIO_INSTALL_PKGS
}

var _ schedule.Driver = (*Driver)(nil)

// Build implements schedule.Driver: prepares the sandbox, runs the
// appropriate command line, captures output into a rotating log, and
// returns the produced .hart's path on success.
func (d *Driver) Build(ctx context.Context, n *depgraph.Node) (string, error) {
	workspace, err := d.prepareWorkspace(n)
	if err != nil {
		return "", xerrors.Errorf("prepare workspace for %s/%s: %w", n.ID.Origin, n.ID.Name, err)
	}

	argv, env := d.commandLine(workspace)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workspace
	cmd.Env = append(os.Environ(), env...)

	var combined bytes.Buffer
	logger := log.New(&combined, fmt.Sprintf("[%s/%s] ", n.ID.Origin, n.ID.Name), log.LstdFlags)
	cmd.Stdout = logWriter{logger}
	cmd.Stderr = logWriter{logger}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil {
		logPath, werr := d.writeLog(d.Cfg.FailureLogDir, n, combined.Bytes())
		if werr != nil {
			return "", xerrors.Errorf("build failed (%v) and writing failure log failed: %w", runErr, werr)
		}
		return "", &schedule.BuildFailure{Kind: d.kindString(), LogPath: logPath}
	}

	if _, err := d.writeLog(d.Cfg.SuccessLogDir, n, combined.Bytes()); err != nil {
		return "", xerrors.Errorf("write success log: %w", err)
	}
	log.Printf("%s/%s built in %s", n.ID.Origin, n.ID.Name, duration.Round(time.Second))

	if d.Cfg.Store != nil {
		buildIdent := fmt.Sprintf("%s/%s/%s", n.ID.Origin, n.ID.Name, n.ID.Version)
		if err := d.Cfg.Store.PutBuildDuration(ctx, buildIdent, duration); err != nil {
			log.Printf("recording build duration for %s: %v", buildIdent, err)
		}
	}

	return d.producedArtifactPath(workspace, n)
}

func (d *Driver) kindString() string {
	switch d.Kind {
	case NativeKind:
		return "native"
	case BootstrapKind:
		return "bootstrap"
	default:
		return "standard"
	}
}

// prepareWorkspace creates the per-worker scratch directory and, for the
// Bootstrap/Standard drivers, pre-cleans the studio root, then copies
// every prebuilt dependency artifact into the workspace's artifact cache
// directory so the build tool finds them without reaching the network.
func (d *Driver) prepareWorkspace(n *depgraph.Node) (string, error) {
	workspace := filepath.Join(d.Cfg.WorkRoot, n.ID.Origin+"-"+n.ID.Name)
	if d.Kind != NativeKind {
		if err := os.RemoveAll(workspace); err != nil {
			return "", xerrors.Errorf("pre-clean studio root %s: %w", workspace, err)
		}
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", xerrors.Errorf("create workspace %s: %w", workspace, err)
	}

	cacheDir := filepath.Join(workspace, "cache", "artifacts")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", xerrors.Errorf("create workspace cache dir: %w", err)
	}
	for _, src := range d.PrebuiltDeps {
		dst := filepath.Join(cacheDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return "", xerrors.Errorf("seed prebuilt dep %s: %w", src, err)
		}
	}
	return workspace, nil
}

// commandLine returns the argv and extra environment for this driver's
// external build tool invocation, per spec.md §4.I.
func (d *Driver) commandLine(workspace string) ([]string, []string) {
	hab := d.Cfg.HabBinary
	if hab == "" {
		hab = "hab"
	}
	habStudio := d.Cfg.HabStudioBinary
	if habStudio == "" {
		habStudio = "hab-studio"
	}

	depotURL := d.Cfg.DepotURL
	if !d.Cfg.AllowRemote {
		depotURL = unreachableDepotHost
	}
	env := []string{"HAB_BLDR_URL=" + depotURL}

	switch d.Kind {
	case NativeKind:
		return []string{hab, "pkg", "build", "-N", d.RecipeContext}, env
	case BootstrapKind:
		env = append(env, "HAB_STUDIO_INSTALL_PKGS="+strings.Join(d.Transitive, " "))
		return []string{habStudio, "-t", "bootstrap", "-r", workspace, "build", "-R", d.RecipeContext}, env
	default:
		return []string{habStudio, "-r", workspace, "build", "-R", d.RecipeContext}, env
	}
}

func (d *Driver) producedArtifactPath(workspace string, n *depgraph.Node) (string, error) {
	results := filepath.Join(workspace, "results")
	entries, err := os.ReadDir(results)
	if err != nil {
		return "", xerrors.Errorf("read results dir %s: %w", results, err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".hart") {
			return filepath.Join(results, e.Name()), nil
		}
	}
	return "", xerrors.Errorf("no .hart produced for %s/%s in %s", n.ID.Origin, n.ID.Name, results)
}

// writeLog writes body to a fresh log file for this node, returning its
// path, then rotates the directory: logs beyond keepUncompressedLogs are
// gzip-compressed in place, and logs beyond maxRetainedLogs are deleted
// oldest-first. The write itself is atomic (via renameio, matching the
// teacher's internal/build/build.go and internal/install/install.go idiom
// for every artifact-area file it produces): a reader never observes a
// truncated log from a crash mid-write.
func (d *Driver) writeLog(dir string, n *depgraph.Node, body []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s-%d.log", n.ID.Origin, n.ID.Name, time.Now().UnixNano())
	path := filepath.Join(dir, name)
	if err := renameio.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	if err := rotateLogDir(dir); err != nil {
		log.Printf("rotating logs in %s: %v", dir, err)
	}
	return path, nil
}

type logFile struct {
	path       string
	modTime    time.Time
	compressed bool
}

// rotateLogDir compresses every *.log file in dir except the
// keepUncompressedLogs most recently written ones, then deletes the
// oldest entries (compressed or not) beyond maxRetainedLogs.
func rotateLogDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return xerrors.Errorf("read log dir %s: %w", dir, err)
	}

	var logs []logFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch {
		case strings.HasSuffix(e.Name(), ".log"):
		case strings.HasSuffix(e.Name(), ".log.gz"):
		default:
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		logs = append(logs, logFile{
			path:       filepath.Join(dir, e.Name()),
			modTime:    info.ModTime(),
			compressed: strings.HasSuffix(e.Name(), ".log.gz"),
		})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].modTime.Before(logs[j].modTime) })

	plain := 0
	for _, l := range logs {
		if !l.compressed {
			plain++
		}
	}
	toCompress := plain - keepUncompressedLogs
	for i := 0; i < len(logs) && toCompress > 0; i++ {
		if logs[i].compressed {
			continue
		}
		if err := compressLog(logs[i].path); err != nil {
			return xerrors.Errorf("compress %s: %w", logs[i].path, err)
		}
		logs[i].path += ".gz"
		logs[i].compressed = true
		toCompress--
	}

	if excess := len(logs) - maxRetainedLogs; excess > 0 {
		for i := 0; i < excess; i++ {
			if err := os.Remove(logs[i].path); err != nil && !os.IsNotExist(err) {
				return xerrors.Errorf("prune %s: %w", logs[i].path, err)
			}
		}
	}
	return nil
}

// compressLog gzips path in place (writing path+".gz" then removing the
// original) using klauspost/compress's faster encoder, per spec.md §4.I
// "rotated build logs".
func compressLog(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	dst := path + ".gz"
	out, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer out.Cleanup()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return err
	}
	return os.Remove(path)
}

type logWriter struct{ underlying *log.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.underlying.Output(3, string(p))
	return len(p), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
