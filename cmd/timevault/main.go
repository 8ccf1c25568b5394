// Command timevault is the interactive CLI over the vault engine: one
// subcommand per operation in SPEC_FULL.md §4.4, flags for arguments,
// password prompts read from the terminal without echo.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/term"

	"github.com/Hussein-Mazeh/timevault/engine"
)

const cliVersion = "0.1.0"

type userError struct {
	msg string
}

func (e userError) Error() string { return e.msg }

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Println(cliVersion)
	case "init":
		err = runInit(os.Args[2:])
	case "add":
		err = runAdd(os.Args[2:])
	case "unlock":
		err = runUnlock(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "refresh":
		err = runRefresh(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		handleError(err)
	}
}

func handleError(err error) {
	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		os.Exit(1)
	}

	var existsErr *engine.FileExistsError
	if errors.As(err, &existsErr) {
		fmt.Fprintf(os.Stderr, "FILE_EXISTS:%s\n", existsErr.Filename)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "unexpected error: %v\n", err)
	os.Exit(2)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var dir string
	var unlockDate uint64
	fs.StringVar(&dir, "dir", "", "vault directory")
	fs.Uint64Var(&unlockDate, "unlock-date", 0, "vault-level unlock timestamp (unix seconds, 0 to skip)")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if dir == "" {
		return userError{msg: "missing required flag: --dir"}
	}

	pw, err := promptPassword("Vault password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer zeroBytes(pw)

	confirm, err := promptPassword("Confirm vault password: ")
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	defer zeroBytes(confirm)

	if string(pw) != string(confirm) {
		return userError{msg: "passwords do not match"}
	}

	e := engine.New(dir)
	if err := e.Init(context.Background(), string(pw), unlockDate); err != nil {
		return err
	}
	fmt.Printf("vault initialized at %s\n", dir)
	return nil
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var dir, file, customName, unlockDateStr string
	fs.StringVar(&dir, "dir", "", "vault directory")
	fs.StringVar(&file, "file", "", "path of the file to ingest")
	fs.StringVar(&customName, "as", "", "store under this filename instead of the source basename")
	fs.StringVar(&unlockDateStr, "unlock-date", "", "file-level unlock timestamp (unix seconds)")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if dir == "" || file == "" || unlockDateStr == "" {
		return userError{msg: "missing required flags: --dir, --file, --unlock-date"}
	}

	unlockDate, err := strconv.ParseUint(unlockDateStr, 10, 64)
	if err != nil {
		return userError{msg: "--unlock-date must be a non-negative integer"}
	}

	pw, err := promptPassword("Vault password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer zeroBytes(pw)

	e := engine.New(dir)
	if err := e.AddFile(context.Background(), file, string(pw), unlockDate, customName); err != nil {
		return err
	}
	fmt.Println("file added")
	return nil
}

func runUnlock(args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var dir, out string
	fs.StringVar(&dir, "dir", "", "vault directory")
	fs.StringVar(&out, "out", "", "directory to write decrypted files into")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if dir == "" || out == "" {
		return userError{msg: "missing required flags: --dir and --out"}
	}

	pw, err := promptPassword("Vault password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer zeroBytes(pw)

	e := engine.New(dir)
	result, err := e.Unlock(context.Background(), out, string(pw))
	if err != nil {
		return err
	}

	if len(result.Decrypted) == 0 {
		fmt.Println("no files were due for unlock")
	} else {
		fmt.Println("decrypted:")
		for _, name := range result.Decrypted {
			fmt.Printf("  %s\n", name)
		}
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.DiskName, w.Reason)
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var dir string
	fs.StringVar(&dir, "dir", "", "vault directory")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if dir == "" {
		return userError{msg: "missing required flag: --dir"}
	}

	pw, err := promptPassword("Vault password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer zeroBytes(pw)

	e := engine.New(dir)
	records, warnings, err := e.Status(context.Background(), string(pw))
	if err != nil {
		return err
	}

	for _, r := range records {
		fmt.Printf("%s (unlocks at %d)\n", r.Filename, r.FileUnlockDate)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.DiskName, w.Reason)
	}
	return nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var dir string
	fs.StringVar(&dir, "dir", "", "vault directory")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if dir == "" {
		return userError{msg: "missing required flag: --dir"}
	}

	e := engine.New(dir)
	info, found, err := e.VaultInfoOp()
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("no vault at this path")
		return nil
	}
	fmt.Printf("created: %d\nlast_server_time: %d\n", info.Created, info.LastServerTime)
	return nil
}

func runRefresh(args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var dir string
	fs.StringVar(&dir, "dir", "", "vault directory")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if dir == "" {
		return userError{msg: "missing required flag: --dir"}
	}

	e := engine.New(dir)
	info, err := e.RefreshTime(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("last_server_time: %d (source: %s)\n", info.LastServerTime, info.TimeSource)
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var dir string
	fs.StringVar(&dir, "dir", "", "vault directory")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if dir == "" {
		return userError{msg: "missing required flag: --dir"}
	}

	pw, err := promptPassword("Vault password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer zeroBytes(pw)

	e := engine.New(dir)
	if err := e.VerifyPassword(context.Background(), string(pw)); err != nil {
		return err
	}
	fmt.Println("password verified")
	return nil
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: timevault <command>")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  version")
	fmt.Fprintln(os.Stderr, "  init    --dir <vault-dir> [--unlock-date <ts>]")
	fmt.Fprintln(os.Stderr, "  add     --dir <vault-dir> --file <path> --unlock-date <ts> [--as <name>]")
	fmt.Fprintln(os.Stderr, "  unlock  --dir <vault-dir> --out <out-dir>")
	fmt.Fprintln(os.Stderr, "  status  --dir <vault-dir>")
	fmt.Fprintln(os.Stderr, "  info    --dir <vault-dir>")
	fmt.Fprintln(os.Stderr, "  refresh --dir <vault-dir>")
	fmt.Fprintln(os.Stderr, "  verify  --dir <vault-dir>")
}
