package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/notedrop/notedrop/internal/config"
	"github.com/notedrop/notedrop/internal/export"
	"github.com/notedrop/notedrop/internal/joplin"
	"github.com/notedrop/notedrop/internal/logx"
	"github.com/notedrop/notedrop/internal/search"
	"github.com/notedrop/notedrop/internal/storage"
	"github.com/notedrop/notedrop/internal/web"
)

var (
	cfg    config.Config
	dbPath string
)

func main() {
	var err error
	cfg, err = config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := logx.Init(os.Stderr, cfg.App.LogLevel, cfg.App.Pretty); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Parse global flags
	globalFlags := flag.NewFlagSet("global", flag.ExitOnError)
	dataDirFlag := globalFlags.String("data-dir", cfg.App.DataDir, "Directory for the notes database")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Find where the command starts (skip global flags)
	commandIdx := 1
	for i := 1; i < len(os.Args); i++ {
		if !strings.HasPrefix(os.Args[i], "-") {
			commandIdx = i
			break
		}
	}

	if commandIdx > 1 {
		globalFlags.Parse(os.Args[1:commandIdx])
	}

	dbPath = *dataDirFlag + "/notes.sqlite"

	command := os.Args[commandIdx]
	args := os.Args[commandIdx+1:]

	switch command {
	case "add":
		addFlags := flag.NewFlagSet("add", flag.ExitOnError)
		link := addFlags.String("link", "", "Link to attach")
		tags := addFlags.String("tags", "", "Space-separated tags")
		note := addFlags.String("note", "", "Short annotation")
		addFlags.Parse(args)

		if addFlags.NArg() < 1 {
			fmt.Println("Error: note text required")
			fmt.Println("Usage: notedrop add [flags] <text>")
			os.Exit(1)
		}

		runAdd(strings.Join(addFlags.Args(), " "), *link, *tags, *note)
	case "edit":
		editFlags := flag.NewFlagSet("edit", flag.ExitOnError)
		text := editFlags.String("text", "", "New text (unchanged if empty)")
		link := editFlags.String("link", "", "New link")
		tags := editFlags.String("tags", "", "New tags")
		note := editFlags.String("note", "", "New annotation")
		editFlags.Parse(args)

		if editFlags.NArg() < 1 {
			fmt.Println("Error: note id required")
			fmt.Println("Usage: notedrop edit [flags] <id>")
			os.Exit(1)
		}

		runEdit(parseID(editFlags.Arg(0)), *text, *link, *tags, *note)
	case "search":
		searchFlags := flag.NewFlagSet("search", flag.ExitOnError)
		help := searchFlags.Bool("help-syntax", false, "Show query syntax help")
		searchFlags.Parse(args)

		if *help {
			fmt.Println(search.Help)
			return
		}

		runSearch(strings.Join(searchFlags.Args(), " "))
	case "get":
		if len(args) < 1 {
			fmt.Println("Error: note id required")
			fmt.Println("Usage: notedrop get <id>")
			os.Exit(1)
		}
		runGet(parseID(args[0]))
	case "export":
		if len(args) < 1 {
			fmt.Println("Error: note id required")
			fmt.Println("Usage: notedrop export <id>")
			os.Exit(1)
		}
		runExport(parseID(args[0]))
	case "export-reset":
		runExportReset()
	case "configure":
		confFlags := flag.NewFlagSet("configure", flag.ExitOnError)
		url := confFlags.String("url", "http://127.0.0.1:41184", "Joplin Web Clipper URL")
		token := confFlags.String("token", "", "Joplin authorization token")
		clear := confFlags.Bool("clear", false, "Remove the stored configuration")
		confFlags.Parse(args)

		runConfigure(*url, *token, *clear)
	case "ping":
		runPing()
	case "stats":
		runStats()
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		addr := serveFlags.String("addr", cfg.Serve.Addr, "Address to listen on")
		serveFlags.Parse(args)

		runServe(*addr)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("notedrop - quick note capture with full-text search and Joplin export")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  notedrop [global-flags] <command> [flags]")
	fmt.Println()
	fmt.Println("Global Flags:")
	fmt.Println("  --data-dir=<dir>  Directory for the notes database (default: ./data)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  add [flags] <text>       Capture a note")
	fmt.Println("  edit [flags] <id>        Update a stored note")
	fmt.Println("  search [query]           Full-text search; empty query lists recent notes")
	fmt.Println("  search -help-syntax      Show the supported query operators")
	fmt.Println("  get <id>                 Print one note as markdown")
	fmt.Println("  export <id>              Export a note to Joplin")
	fmt.Println("  export-reset             Forget all Joplin mappings (forces full re-export)")
	fmt.Println("  configure [flags]        Store the Joplin connection configuration")
	fmt.Println("  ping                     Check the configured Joplin instance")
	fmt.Println("  stats                    Show note counts")
	fmt.Println("  serve [flags]            Start the local JSON API")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  notedrop add -tags \"work todo\" \"buy milk\"")
	fmt.Println("  notedrop search 'milk OR bread'")
	fmt.Println("  notedrop configure -token=abc123")
	fmt.Println("  notedrop export 42")
}

// openStore opens the database; failure here is the one condition the
// process cannot continue from.
func openStore() *storage.DB {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		slog.Error("cannot create data directory", "err", err)
		os.Exit(1)
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		slog.Error("cannot open notes database", "path", dbPath, "err", err)
		os.Exit(1)
	}
	return db
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Printf("Error: invalid note id %q\n", s)
		os.Exit(1)
	}
	return id
}

func runAdd(text, link, tags, note string) {
	db := openStore()
	defer db.Close()

	id, err := db.Insert(context.Background(), text, link, tags, note)
	if err != nil {
		// a failed capture loses one note, not the session
		slog.Error("insert note failed", "err", err)
		return
	}

	fmt.Printf("Saved note %d\n", id)
}

func runEdit(id int64, text, link, tags, note string) {
	db := openStore()
	defer db.Close()

	ctx := context.Background()

	current, err := db.GetByID(ctx, id)
	if err != nil {
		slog.Error("load note failed", "id", id, "err", err)
		os.Exit(1)
	}
	if current == nil {
		fmt.Printf("Note not found: %d\n", id)
		os.Exit(1)
	}

	if text != "" {
		current.Text = text
	}
	if link != "" {
		current.Link = link
	}
	if tags != "" {
		current.Tags = tags
	}
	if note != "" {
		current.Note = note
	}

	if err := db.Update(ctx, current); err != nil {
		slog.Error("update note failed", "id", id, "err", err)
		os.Exit(1)
	}

	fmt.Printf("Updated note %d\n", id)
}

func runSearch(query string) {
	db := openStore()
	defer db.Close()

	engine := search.NewEngine(db)

	results, err := engine.Search(context.Background(), query)
	if err != nil {
		if errors.Is(err, storage.ErrBadQuery) {
			fmt.Printf("Bad query: %v\n", err)
			fmt.Println()
			fmt.Println(search.Help)
			os.Exit(1)
		}
		slog.Error("search failed", "err", err)
		os.Exit(1)
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return
	}

	fmt.Printf("Found %d notes:\n\n", len(results))
	for _, n := range results {
		text := truncate(n.Text, 120)
		fmt.Printf("%6d  %s\n", n.ID, text)
		if n.Tags != "" {
			fmt.Printf("        tags: %s\n", n.Tags)
		}
		if n.Link != "" {
			fmt.Printf("        link: %s\n", n.Link)
		}
	}
}

// truncate shortens s to at most n runes, never splitting a multi-byte
// character.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func runGet(id int64) {
	db := openStore()
	defer db.Close()

	note, err := db.GetByID(context.Background(), id)
	if err != nil {
		slog.Error("load note failed", "id", id, "err", err)
		os.Exit(1)
	}
	if note == nil {
		fmt.Printf("Note not found: %d\n", id)
		os.Exit(1)
	}

	fmt.Print(note.Markdown())
}

func runExport(id int64) {
	db := openStore()
	defer db.Close()

	ctx := context.Background()

	note, err := db.GetByID(ctx, id)
	if err != nil {
		slog.Error("load note failed", "id", id, "err", err)
		os.Exit(1)
	}
	if note == nil {
		fmt.Printf("Note not found: %d\n", id)
		os.Exit(1)
	}

	exporter := export.NewJoplin(db)

	// Joplin runs locally and may still be starting; ping it with a
	// short bounded retry before the actual export
	err = retry.Do(
		func() error { return exporter.Ping(ctx) },
		retry.Attempts(3),
		retry.Delay(300*time.Millisecond),
		retry.RetryIf(func(err error) bool { return errors.Is(err, joplin.ErrConnection) }),
		retry.OnRetry(func(attempt uint, err error) {
			slog.Warn("joplin not reachable, retrying", "attempt", attempt, "err", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		reportExportError(exporter, err)
		os.Exit(1)
	}

	engine := export.NewEngine(db)
	if err := engine.Export(ctx, note, exporter); err != nil {
		reportExportError(exporter, err)
		os.Exit(1)
	}

	fmt.Printf("Exported note %d to %s\n", id, exporter.Name())
}

func reportExportError(exporter *export.Joplin, err error) {
	if errors.Is(err, export.ErrMissingConfig) {
		fmt.Println("Joplin is not configured.")
		fmt.Println()
		fmt.Println(exporter.Help())
		fmt.Println()
		fmt.Println("Then run: notedrop configure -token=<token>")
		return
	}

	fmt.Printf("Export failed: %v\n", err)
}

func runExportReset() {
	db := openStore()
	defer db.Close()

	exporter := export.NewJoplin(db)

	if err := db.ResetExportMappings(context.Background(), exporter.Name()); err != nil {
		slog.Error("reset export mappings failed", "err", err)
		os.Exit(1)
	}

	fmt.Println("All Joplin mappings cleared; the next export recreates each note remotely.")
}

func runConfigure(url, token string, clear bool) {
	db := openStore()
	defer db.Close()

	ctx := context.Background()
	store := export.NewJoplinConfigStore(db)

	if clear {
		if err := store.Clear(ctx); err != nil {
			slog.Error("clear configuration failed", "err", err)
			os.Exit(1)
		}
		fmt.Println("Joplin configuration removed")
		return
	}

	if token == "" {
		cfg, err := store.Load(ctx)
		if err != nil {
			slog.Error("load configuration failed", "err", err)
			os.Exit(1)
		}
		if cfg == nil {
			fmt.Println("Joplin is not configured. Run: notedrop configure -token=<token>")
			return
		}
		fmt.Printf("Joplin configured at %s\n", cfg.BaseURL)
		return
	}

	if err := store.Save(ctx, joplin.Config{BaseURL: url, Token: token}); err != nil {
		slog.Error("save configuration failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("Joplin configuration saved (%s)\n", url)
}

func runPing() {
	db := openStore()
	defer db.Close()

	exporter := export.NewJoplin(db)

	if err := exporter.Ping(context.Background()); err != nil {
		reportExportError(exporter, err)
		os.Exit(1)
	}

	fmt.Println("Joplin is reachable")
}

func runStats() {
	db := openStore()
	defer db.Close()

	count, err := db.Count(context.Background())
	if err != nil {
		slog.Error("count notes failed", "err", err)
		os.Exit(1)
	}

	fmt.Println("=== notedrop ===")
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Notes:    %d\n", count)
}

func runServe(addr string) {
	db := openStore()
	defer db.Close()

	server := web.NewServer(db, search.NewEngine(db), export.NewEngine(db), export.NewJoplin(db))

	slog.Info("serving local API", "addr", addr)
	fmt.Printf("notedrop API running at http://%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
