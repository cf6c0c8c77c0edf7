package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shijimago/shijima/internal/httpapi"
)

const usage = `Usage: shijimactl <command> [options...]
   Commands: list, list-loaded, spawn, alter, dismiss, dismiss-all`

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

type common struct {
	addr  *string
	token *string
	json  *bool
}

func newFlags(name string) (*flag.FlagSet, common) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addr := os.Getenv("SHIJIMA_ADDR")
	if addr == "" {
		addr = httpapi.DefaultAddr
	}
	return fs, common{
		addr:  fs.String("addr", addr, "daemon address"),
		token: fs.String("token", os.Getenv("SHIJIMA_TOKEN"), "API bearer token"),
		json:  fs.Bool("json", false, "print the API result as JSON"),
	}
}

func (c common) client() *httpapi.Client { return httpapi.NewClient(*c.addr, *c.token) }

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "list":
		err = listCmd(ctx, os.Args[2:])
	case "list-loaded":
		err = listLoadedCmd(ctx, os.Args[2:])
	case "spawn":
		err = spawnCmd(ctx, os.Args[2:])
	case "alter":
		err = alterCmd(ctx, os.Args[2:])
	case "dismiss":
		err = dismissCmd(ctx, os.Args[2:])
	case "dismiss-all":
		err = dismissAllCmd(ctx, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			fmt.Fprintln(os.Stderr, "Request failed. Is shijimad running?")
		} else {
			fmt.Fprintln(os.Stderr, "ERROR:", err)
		}
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMascot(m *httpapi.Mascot) {
	behavior := ""
	if m.ActiveBehavior != nil {
		behavior = *m.ActiveBehavior
	}
	fmt.Printf("[%d] %s\n", m.ID, m.Name)
	fmt.Printf("  Data ID: %d\n", m.DataID)
	fmt.Printf("  Active behavior: %s\n", behavior)
	fmt.Printf("  Anchor: {%g, %g}\n", m.Anchor.X, m.Anchor.Y)
}

// patchFlags registers -x, -y and -behavior and builds the resulting patch.
func patchFlags(fs *flag.FlagSet) func() (httpapi.Patch, error) {
	x := fs.String("x", "", "X position")
	y := fs.String("y", "", "Y position")
	var behaviors multiFlag
	fs.Var(&behaviors, "behavior", "behavior; repeat to pick one at random")
	return func() (httpapi.Patch, error) {
		var p httpapi.Patch
		if (*x == "") != (*y == "") {
			return p, errors.New("x and y must be specified together")
		}
		if *x != "" {
			var v httpapi.Vec2
			if _, err := fmt.Sscan(*x, &v.X); err != nil {
				return p, fmt.Errorf("bad -x: %w", err)
			}
			if _, err := fmt.Sscan(*y, &v.Y); err != nil {
				return p, fmt.Errorf("bad -y: %w", err)
			}
			p.Anchor = &v
		}
		if len(behaviors) > 0 {
			b := behaviors[rand.Intn(len(behaviors))]
			p.Behavior = &b
		}
		return p, nil
	}
}

func listCmd(ctx context.Context, args []string) error {
	fs, c := newFlags("list")
	selector := fs.String("selector", "", "selector expression")
	_ = fs.Parse(args)
	ms, err := c.client().List(ctx, *selector)
	if err != nil {
		return err
	}
	if *c.json {
		return printJSON(map[string]any{"mascots": ms})
	}
	for i := range ms {
		printMascot(&ms[i])
	}
	return nil
}

func listLoadedCmd(ctx context.Context, args []string) error {
	fs, c := newFlags("list-loaded")
	byID := fs.Bool("sort-by-id", false, "sort results by id")
	_ = fs.Parse(args)
	if *c.json && *byID {
		return errors.New("-json and -sort-by-id cannot be used together")
	}
	loaded, err := c.client().Loaded(ctx)
	if err != nil {
		return err
	}
	if *c.json {
		return printJSON(map[string]any{"loaded_mascots": loaded})
	}
	if *byID {
		sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID < loaded[j].ID })
	}
	for _, l := range loaded {
		fmt.Printf("[%d] %s\n", l.ID, l.Name)
	}
	return nil
}

func spawnCmd(ctx context.Context, args []string) error {
	fs, c := newFlags("spawn")
	name := fs.String("name", "", "template name")
	dataID := fs.Int64("data-id", -1, "template data id")
	patch := patchFlags(fs)
	_ = fs.Parse(args)
	if (*name == "") == (*dataID < 0) {
		fs.Usage()
		return errors.New("specify exactly one of -name or -data-id")
	}
	p, err := patch()
	if err != nil {
		return err
	}
	req := httpapi.SpawnRequest{Patch: p}
	if *name != "" {
		req.Name = name
	} else {
		req.DataID = dataID
	}
	m, err := c.client().Spawn(ctx, req)
	if err != nil {
		return err
	}
	if *c.json {
		return printJSON(map[string]any{"mascot": m})
	}
	printMascot(m)
	return nil
}

func alterCmd(ctx context.Context, args []string) error {
	fs, c := newFlags("alter")
	id := fs.String("id", "", "mascot id, or oldest, newest, random")
	var selectors multiFlag
	fs.Var(&selectors, "selector", "selector used with an automatic id; repeatable")
	patch := patchFlags(fs)
	_ = fs.Parse(args)
	if *id == "" {
		fs.Usage()
		return errors.New("-id is required")
	}
	p, err := patch()
	if err != nil {
		return err
	}
	cl := c.client()
	n, err := cl.ResolveID(ctx, *id, selectors)
	if err != nil {
		return err
	}
	m, err := cl.Alter(ctx, n, p)
	if err != nil {
		return err
	}
	if *c.json {
		return printJSON(map[string]any{"mascot": m})
	}
	printMascot(m)
	return nil
}

func dismissCmd(ctx context.Context, args []string) error {
	fs, c := newFlags("dismiss")
	id := fs.String("id", "", "mascot id, or oldest, newest, random")
	var selectors multiFlag
	fs.Var(&selectors, "selector", "selector used with an automatic id; repeatable")
	_ = fs.Parse(args)
	if *id == "" {
		fs.Usage()
		return errors.New("-id is required")
	}
	cl := c.client()
	n, err := cl.ResolveID(ctx, *id, selectors)
	if err != nil {
		return err
	}
	return cl.Dismiss(ctx, n)
}

func dismissAllCmd(ctx context.Context, args []string) error {
	fs, c := newFlags("dismiss-all")
	selector := fs.String("selector", "", "selector expression")
	_ = fs.Parse(args)
	n, err := c.client().DismissAll(ctx, *selector)
	if err != nil {
		return err
	}
	if *c.json {
		return printJSON(map[string]any{"marked": n})
	}
	fmt.Printf("%d mascot(s) dismissed\n", n)
	return nil
}
