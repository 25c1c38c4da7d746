package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/farmstay/api"
	"github.com/briangreenhill/farmstay/catalog"
	"github.com/briangreenhill/farmstay/internal/app"
	"github.com/briangreenhill/farmstay/internal/config"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	out, errOut io.Writer
	persist     bool
	debug       bool
	asJSON      bool
	app         *app.App
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:          "farmstay",
		Short:        "Read and manage farm site content through the cached content layer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return c.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app != nil {
				return c.app.Close()
			}
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().BoolVar(&c.persist, "persist", false, "keep the cache on disk between runs")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "log debug output to stderr")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(c.out, "farmstay v%s\n", version)
			},
		},
		c.listCmd(),
		c.getCmd(),
		c.slugCmd(),
		c.createCmd(),
		c.updateCmd(),
		c.deleteCmd(),
		c.refreshCmd(),
	)
	return root
}

// open builds the content layer. The CLI has no session, so the session
// backend falls back to memory; --persist selects the file cache.
func (c *cli) open() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	switch {
	case c.persist:
		cfg.CacheBackend = config.BackendFile
	case cfg.CacheBackend == config.BackendSession:
		cfg.CacheBackend = config.BackendMemory
	}

	level := zerolog.WarnLevel
	if c.debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: c.errOut, NoColor: true}).Level(level).With().Timestamp().Logger()

	a, err := app.New(cfg, nil, logger)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) service(name string) (*catalog.Service, error) {
	k, err := catalog.ParseKind(name)
	if err != nil {
		return nil, err
	}
	return c.app.Catalog.MustService(k), nil
}

func (c *cli) listCmd() *cobra.Command {
	var (
		force       bool
		page, limit int
		category    string
	)
	cmd := &cobra.Command{
		Use:   "list KIND",
		Short: "List products, services, experiences, news, images or videos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(args[0])
			if err != nil {
				return err
			}
			var opts []catalog.ListOption
			if force {
				opts = append(opts, catalog.Force())
			}
			if limit > 0 {
				opts = append(opts, catalog.Page(page, limit))
			}
			if category != "" {
				opts = append(opts, catalog.Category(category))
			}

			l, err := svc.List(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			if l.Warning != nil {
				fmt.Fprintf(c.errOut, "warning: %v\n", l.Warning)
			}
			if c.asJSON {
				return c.printJSON(l)
			}
			c.printTable(l)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the cache")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size; 0 lists everything")
	cmd.Flags().StringVar(&category, "category", "", "category id to filter by")
	return cmd
}

func (c *cli) printTable(l catalog.Listing) {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Name", "Images", "First image"})
	for _, r := range l.Records {
		first := ""
		if len(r.Images) > 0 {
			first = r.Images[0]
		}
		t.AppendRow(table.Row{r.ID, r.DisplayName(), len(r.Images), first})
	}
	t.Render()
	fmt.Fprintf(c.out, "%d records from %s\n", len(l.Records), l.Source)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KIND ID",
		Short: "Show one record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(args[0])
			if err != nil {
				return err
			}
			rec, err := svc.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return c.printJSON(rec)
		},
	}
}

func (c *cli) slugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slug KIND SLUG",
		Short: "Show one record by slug",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(args[0])
			if err != nil {
				return err
			}
			rec, err := svc.GetBySlug(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return c.printJSON(rec)
		},
	}
}

type formFlags struct {
	fields  []string
	images  []string
	uploads []string
}

func (f *formFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.fields, "set", nil, "form field as key=value (name, title, summary, content, child_nav_id, isFeatured)")
	cmd.Flags().StringArrayVar(&f.images, "image", nil, "existing image path to keep")
	cmd.Flags().StringArrayVar(&f.uploads, "upload", nil, "local file to upload as an image")
}

// payload builds the multipart payload. The returned func closes opened files.
func (f *formFlags) payload() (*api.Payload, func(), error) {
	p := api.NewPayload()
	var files []*os.File
	closeAll := func() {
		for _, fh := range files {
			_ = fh.Close()
		}
	}

	for _, kv := range f.fields {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, closeAll, fmt.Errorf("--set %q: want key=value", kv)
		}
		p.Set(k, v)
	}
	for _, img := range f.images {
		p.AddImage(img)
	}
	for _, path := range f.uploads {
		fh, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		files = append(files, fh)
		p.AddUpload(api.Upload{Filename: filepath.Base(path), Body: fh})
	}
	return p, closeAll, nil
}

func (c *cli) createCmd() *cobra.Command {
	var form formFlags
	cmd := &cobra.Command{
		Use:   "create KIND",
		Short: "Create a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(args[0])
			if err != nil {
				return err
			}
			p, done, err := form.payload()
			defer done()
			if err != nil {
				return err
			}

			res, err := svc.Create(cmd.Context(), p)
			if err != nil {
				return err
			}
			if sim, ok := res.(catalog.Simulated); ok {
				fmt.Fprintf(c.errOut, "warning: NOT PERSISTED, the API could not be reached (%v); local ref %s\n", sim.Cause, sim.LocalRef)
			}
			return c.printJSON(catalog.RecordOf(res))
		},
	}
	form.bind(cmd)
	return cmd
}

func (c *cli) updateCmd() *cobra.Command {
	var form formFlags
	cmd := &cobra.Command{
		Use:   "update KIND ID",
		Short: "Update a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(args[0])
			if err != nil {
				return err
			}
			p, done, err := form.payload()
			defer done()
			if err != nil {
				return err
			}
			rec, err := svc.Update(cmd.Context(), args[1], p)
			if err != nil {
				return err
			}
			return c.printJSON(rec)
		},
	}
	form.bind(cmd)
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KIND ID",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(args[0])
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), args[1]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleted %s %s\n", svc.Kind(), args[1])
			return nil
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Clear the cache and re-fetch every kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := c.app.Catalog.RefreshAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range catalog.Kinds {
				l := got[k]
				fmt.Fprintf(c.out, "%-12s %-9s %d\n", k.Plural(), l.Source, len(l.Records))
			}
			return nil
		},
	}
}
