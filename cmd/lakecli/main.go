// Command lakecli is a small command-line tool for working with a
// LakeStore account through the SDK: listing and inspecting paths, moving
// data in and out, and managing permissions and ACLs.
//
// Usage:
//
//	lakecli -config lakestore.yaml <command> [arguments]
//
// Commands:
//
//	ls <path>                 list a directory
//	stat <path>               show metadata of a file or directory
//	summary <path>            aggregate size and counts of a tree
//	mkdir <path>              create a directory
//	put <local> <path>        upload a local file
//	get <path> [local]        download a file (default: stdout)
//	cat <path>                print a file to stdout
//	append <path>             append stdin to a file
//	rm [-r] <path>            delete a file or directory
//	mv <src> <dst>            rename a file or directory
//	touch <path>              create an empty file
//	chmod <octal> <path>      set permissions
//	chown -owner u -group g <path>  set owner and/or group
//	getacl <path>             show the ACL
//	setacl <aclspec> <path>   replace the ACL
//	expire <path> <ms>        set expiry relative to now
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/openlake/lakestore/internal/logger"
	"github.com/openlake/lakestore/pkg/config"
	"github.com/openlake/lakestore/pkg/lakestore"
	"github.com/openlake/lakestore/pkg/lakestore/acl"
	"github.com/openlake/lakestore/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "lakestore.yaml", "path to configuration file")
	logLevel := flag.String("log-level", "", "override log level (trace|debug|info|warn|error)")
	enableMetrics := flag.Bool("metrics", false, "enable Prometheus metrics collection")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("loading configuration: %v", err)
	}
	if *logLevel != "" {
		logger.SetLevel(*logLevel)
	} else {
		logger.SetLevel(cfg.Logging.Level)
	}
	if *enableMetrics {
		metrics.InitRegistry()
	}

	client, err := cfg.NewClient()
	if err != nil {
		fatal("creating client: %v", err)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]
	if err := run(client, command, args); err != nil {
		fatal("%s: %v", command, err)
	}
}

func fatal(format string, v ...any) {
	fmt.Fprintf(os.Stderr, "lakecli: "+format+"\n", v...)
	os.Exit(1)
}

func run(client *lakestore.Client, command string, args []string) error {
	switch command {
	case "ls":
		return runLs(client, args)
	case "stat":
		return runStat(client, args)
	case "summary":
		return runSummary(client, args)
	case "mkdir":
		return runMkdir(client, args)
	case "put":
		return runPut(client, args)
	case "get":
		return runGet(client, args)
	case "cat":
		return runCat(client, args)
	case "append":
		return runAppend(client, args)
	case "rm":
		return runRm(client, args)
	case "mv":
		return runMv(client, args)
	case "touch":
		return runTouch(client, args)
	case "chmod":
		return runChmod(client, args)
	case "chown":
		return runChown(client, args)
	case "getacl":
		return runGetAcl(client, args)
	case "setacl":
		return runSetAcl(client, args)
	case "expire":
		return runExpire(client, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func wantArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("usage: lakecli %s", usage)
	}
	return nil
}

func runLs(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 1, "ls <path>"); err != nil {
		return err
	}
	entries, err := client.EnumerateDirectory(args[0])
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		kind := "-"
		if e.Type == lakestore.EntryTypeDirectory {
			kind = "d"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%d\t%s\t%s\n",
			kind, e.Permission, e.User, e.Group, e.Length,
			e.LastModifiedTime.Format("2006-01-02 15:04"), e.Name)
	}
	return w.Flush()
}

func runStat(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 1, "stat <path>"); err != nil {
		return err
	}
	e, err := client.GetDirectoryEntry(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Path:        %s\n", e.FullName)
	fmt.Printf("Type:        %s\n", e.Type)
	fmt.Printf("Length:      %d\n", e.Length)
	fmt.Printf("Owner:       %s\n", e.User)
	fmt.Printf("Group:       %s\n", e.Group)
	fmt.Printf("Permission:  %s\n", e.Permission)
	fmt.Printf("Modified:    %s\n", e.LastModifiedTime)
	fmt.Printf("Accessed:    %s\n", e.LastAccessTime)
	fmt.Printf("ACLs:        %v\n", e.AclBit)
	if e.ExpiryTime != nil {
		fmt.Printf("Expires:     %s\n", e.ExpiryTime)
	}
	return nil
}

func runSummary(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 1, "summary <path>"); err != nil {
		return err
	}
	s, err := client.GetContentSummary(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Length:          %d\n", s.Length)
	fmt.Printf("Files:           %d\n", s.FileCount)
	fmt.Printf("Directories:     %d\n", s.DirectoryCount)
	fmt.Printf("Space consumed:  %d\n", s.SpaceConsumed)
	return nil
}

func runMkdir(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 1, "mkdir <path>"); err != nil {
		return err
	}
	ok, err := client.CreateDirectory(args[0], "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("directory was not created")
	}
	return nil
}

func runPut(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 2, "put <local> <path>"); err != nil {
		return err
	}
	return client.UploadFile(args[1], args[0], lakestore.IfExistsOverwrite)
}

func runGet(client *lakestore.Client, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: lakecli get <path> [local]")
	}
	var out io.Writer = os.Stdout
	if len(args) == 2 {
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err := client.Download(args[0], out)
	return err
}

func runCat(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 1, "cat <path>"); err != nil {
		return err
	}
	_, err := client.Download(args[0], os.Stdout)
	return err
}

func runAppend(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 1, "append <path>"); err != nil {
		return err
	}
	w, err := client.AppendToFile(args[0])
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, os.Stdin); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func runRm(client *lakestore.Client, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	recursive := fs.Bool("r", false, "delete recursively")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: lakecli rm [-r] <path>")
	}
	var ok bool
	var err error
	if *recursive {
		ok, err = client.DeleteRecursive(fs.Arg(0))
	} else {
		ok, err = client.Delete(fs.Arg(0))
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("nothing was deleted")
	}
	return nil
}

func runMv(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 2, "mv <src> <dst>"); err != nil {
		return err
	}
	ok, err := client.Rename(args[0], args[1], false)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rename did not succeed")
	}
	return nil
}

func runTouch(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 1, "touch <path>"); err != nil {
		return err
	}
	return client.CreateEmptyFile(args[0])
}

func runChmod(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 2, "chmod <octal> <path>"); err != nil {
		return err
	}
	return client.SetPermission(args[1], args[0])
}

func runChown(client *lakestore.Client, args []string) error {
	fs := flag.NewFlagSet("chown", flag.ContinueOnError)
	owner := fs.String("owner", "", "new owner")
	group := fs.String("group", "", "new group")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: lakecli chown [-owner u] [-group g] <path>")
	}
	return client.SetOwner(fs.Arg(0), *owner, *group)
}

func runGetAcl(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 1, "getacl <path>"); err != nil {
		return err
	}
	status, err := client.GetAclStatus(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("# owner: %s\n", status.Owner)
	fmt.Printf("# group: %s\n", status.Group)
	fmt.Printf("# permission: %s\n", status.Permission)
	for _, e := range status.Entries {
		fmt.Println(e.String())
	}
	return nil
}

func runSetAcl(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 2, "setacl <aclspec> <path>"); err != nil {
		return err
	}
	entries, err := acl.ParseSpec(args[0])
	if err != nil {
		return err
	}
	return client.SetAcl(args[1], entries)
}

func runExpire(client *lakestore.Client, args []string) error {
	if err := wantArgs(args, 2, "expire <path> <ms>"); err != nil {
		return err
	}
	var ms int64
	if _, err := fmt.Sscanf(args[1], "%d", &ms); err != nil {
		return fmt.Errorf("invalid milliseconds value %q", args[1])
	}
	return client.SetExpiry(args[0], lakestore.ExpiryRelativeToNow, ms)
}
