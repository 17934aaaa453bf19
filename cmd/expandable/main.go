// Command expandable operates an expandable deployment from its
// configuration file: it checks the configuration, saves and shows extra
// attributes of a host record, and exports or restores attribute snapshots.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"expandable/internal/config"
	"expandable/internal/core"
	"expandable/internal/observability"
	"expandable/pkg/domain"
)

var exitFunc = os.Exit

const usage = `usage: expandable <command> [flags]

commands:
  check    validate the configuration and print each host type's pipeline
  save     save extra attributes of a host record (-host, -id, -attrs JSON)
  show     print a host record with its stored attributes merged (-host, -id)
  export   write attribute snapshots (-host, -owners a,b or one id per stdin line)
  restore  replay a snapshot into the row store (-key)
`

// main runs the command-line interface and exits with its status code.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

type command struct {
	configPath string
	hostType   string
	id         string
	attrs      string
	owners     string
	key        string
}

func cli(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	name := args[0]
	fs := flag.NewFlagSet("expandable "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cmd command
	fs.StringVar(&cmd.configPath, "config", "expandable.yaml", "path to the configuration file")
	fs.StringVar(&cmd.hostType, "host", "", "host type")
	fs.StringVar(&cmd.id, "id", "", "host record id")
	fs.StringVar(&cmd.attrs, "attrs", "{}", "attributes as a JSON object")
	fs.StringVar(&cmd.owners, "owners", "", "comma separated owner ids (default: read stdin)")
	fs.StringVar(&cmd.key, "key", "", "snapshot blob key")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	var run func(context.Context, *core.Service, command, io.Reader, io.Writer) error
	switch name {
	case "check":
		run = runCheck
	case "save":
		run = runSave
	case "show":
		run = runShow
	case "export":
		run = runExport
	case "restore":
		run = runRestore
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", name, usage)
		return 2
	}

	cfg, err := config.Load(cmd.configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger, err := observability.NewLoggerTo(stderr, cfg.Logging)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	svc, err := core.NewService(ctx, cfg, core.WithLogger(logger))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "start: %v\n", err)
		return 1
	}
	defer func() { _ = svc.Close() }()

	if err := run(ctx, svc, cmd, stdin, stdout); err != nil {
		var rejected rejectedError
		if errors.As(err, &rejected) {
			_ = writeJSON(stdout, map[string]any{"errors": rejected.errs})
		}
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}
	return 0
}

type rejectedError struct {
	errs domain.ValidationErrors
}

func (e rejectedError) Error() string {
	return fmt.Sprintf("%v on %s", domain.ErrValidationFailed, strings.Join(e.errs.Fields(), ", "))
}

func (e rejectedError) Unwrap() error { return domain.ErrValidationFailed }

func runCheck(_ context.Context, svc *core.Service, _ command, _ io.Reader, stdout io.Writer) error {
	for _, hostType := range svc.HostTypes() {
		engine, err := svc.Engine(hostType)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(stdout, "%s: %s\n", hostType, strings.Join(engine.Pipeline().Names(), " -> ")); err != nil {
			return err
		}
	}
	return nil
}

func runSave(ctx context.Context, svc *core.Service, cmd command, _ io.Reader, stdout io.Writer) error {
	if cmd.hostType == "" || cmd.id == "" {
		return errors.New("-host and -id are required")
	}
	record := domain.NewHostRecord(cmd.hostType, cmd.id)
	if err := json.Unmarshal([]byte(cmd.attrs), record.Attributes); err != nil {
		return fmt.Errorf("parse -attrs: %w", err)
	}
	hostErrs := domain.ValidationErrors{}
	ok, err := svc.Save(ctx, record, hostErrs, nil)
	if err != nil {
		return err
	}
	if !ok {
		return rejectedError{errs: hostErrs}
	}
	return showRecord(ctx, svc, cmd, stdout)
}

func runShow(ctx context.Context, svc *core.Service, cmd command, _ io.Reader, stdout io.Writer) error {
	if cmd.hostType == "" || cmd.id == "" {
		return errors.New("-host and -id are required")
	}
	return showRecord(ctx, svc, cmd, stdout)
}

func showRecord(ctx context.Context, svc *core.Service, cmd command, stdout io.Writer) error {
	record := domain.NewHostRecord(cmd.hostType, cmd.id)
	if err := svc.Load(ctx, record); err != nil {
		return err
	}
	return writeJSON(stdout, record)
}

func runExport(ctx context.Context, svc *core.Service, cmd command, stdin io.Reader, stdout io.Writer) error {
	if cmd.hostType == "" {
		return errors.New("-host is required")
	}
	owners, err := ownerIDs(cmd.owners, stdin)
	if err != nil {
		return err
	}
	results, err := svc.Export(ctx, cmd.hostType, owners)
	if err != nil {
		return err
	}
	for _, res := range results {
		if _, err := fmt.Fprintf(stdout, "%s\t%d rows\t%d bytes\txxh3:%s\n", res.Key, res.Rows, res.Size, res.Checksum); err != nil {
			return err
		}
	}
	return nil
}

func runRestore(ctx context.Context, svc *core.Service, cmd command, _ io.Reader, stdout io.Writer) error {
	if cmd.key == "" {
		return errors.New("-key is required")
	}
	snap, err := svc.Exporter().Read(ctx, cmd.key)
	if err != nil {
		return err
	}
	if _, err := svc.Engine(snap.HostType); err != nil {
		return err
	}
	n, err := svc.Exporter().Restore(ctx, snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "restored %d rows for %s %s\n", n, snap.HostType, snap.OwnerID)
	return err
}

func ownerIDs(flagValue string, stdin io.Reader) ([]string, error) {
	var owners []string
	if flagValue != "" {
		for _, id := range strings.Split(flagValue, ",") {
			if id = strings.TrimSpace(id); id != "" {
				owners = append(owners, id)
			}
		}
		return owners, nil
	}
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			owners = append(owners, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read owner ids: %w", err)
	}
	if len(owners) == 0 {
		return nil, errors.New("no owner ids given")
	}
	return owners, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
