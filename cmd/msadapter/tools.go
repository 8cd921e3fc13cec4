package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/msadapter/adapter"
	"github.com/hazyhaar/msadapter/internal/fetch"
	"github.com/hazyhaar/msadapter/planid"
	"github.com/hazyhaar/msadapter/rewrite"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [file]",
	Short: "Rewrite one HTML document to v2 markup (stdin when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRewrite,
}

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Fetch a live page and report the legacy markup the adapter would rewrite",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <id>...",
	Short: "Show which v2 attribute carries each identifier",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the adapter tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	rewriteCmd.Flags().String("url", "/", "page URL, query included")
	rewriteCmd.Flags().String("mode", "v2", "mode remembered in the session: v1 or v2")
	rewriteCmd.Flags().String("member", "", "file holding a v2 member snapshot (JSON)")
	rewriteCmd.Flags().Bool("report", false, "print the rule report as JSON instead of the document")

	scanCmd.Flags().Bool("render", true, "render JavaScript shells in headless Chrome")
	scanCmd.Flags().String("browser", "", "remote Chrome DevTools URL (launches a local browser when empty)")
	scanCmd.Flags().Duration("timeout", 30*time.Second, "fetch timeout")
	scanCmd.Flags().Bool("json", false, "output the report as JSON")

	rootCmd.AddCommand(rewriteCmd, scanCmd, classifyCmd, mcpCmd)
}

func runRewrite(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := offlineAdapter(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	src, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	req := adapter.RewriteRequest{HTML: string(src)}
	req.URL, _ = cmd.Flags().GetString("url")
	req.Mode, _ = cmd.Flags().GetString("mode")
	if path, _ := cmd.Flags().GetString("member"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read member: %w", err)
		}
		req.Member = raw
	}

	res, err := a.RewriteHTML(cmd.Context(), req)
	if err != nil {
		return err
	}
	if report, _ := cmd.Flags().GetBool("report"); report {
		res.HTML = ""
		return printJSON(cmd.OutOrStdout(), res)
	}
	_, err = io.WriteString(cmd.OutOrStdout(), res.HTML)
	return err
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := offlineAdapter(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	opts := []fetch.Option{fetch.WithLogger(logger)}
	if render, _ := cmd.Flags().GetBool("render"); render {
		remote, _ := cmd.Flags().GetString("browser")
		r := fetch.NewRenderer(fetch.RenderConfig{RemoteURL: remote, Timeout: timeout, Logger: logger})
		defer r.Close()
		opts = append(opts, fetch.WithRenderer(r))
	}
	f := fetch.New(opts...)

	ctx := cmd.Context()
	page, err := f.Get(ctx, args[0])
	if err != nil {
		return err
	}
	res, err := a.RewriteHTML(ctx, adapter.RewriteRequest{HTML: string(page.HTML), URL: args[0], Mode: "v2"})
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		res.HTML = ""
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"url":        page.URL,
			"status":     page.StatusCode,
			"rendered":   page.Rendered,
			"sufficient": page.Sufficient,
			"pre_load":   res.PreLoad,
			"post_ready": res.PostReady,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (status %d, rendered %v)\n\n", page.URL, page.StatusCode, page.Rendered)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range []rewrite.Report{res.PreLoad, res.PostReady} {
		for _, c := range r.Counts {
			if c.Count > 0 {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Batch, c.Rule, c.Count)
			}
		}
	}
	tw.Flush()
	fmt.Fprintf(out, "\nlegacy elements: %d pre-load, %d post-ready\n", res.PreLoad.Total, res.PostReady.Total)
	for _, amb := range res.PreLoad.Ambiguous {
		fmt.Fprintf(out, "ambiguous href %q matches %v\n", amb.Href, amb.Rules)
	}
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, id := range args {
		attr, ok := planid.Classify(id)
		if !ok {
			attr = "(unknown format)"
		}
		fmt.Fprintf(tw, "%s\t%s\n", id, attr)
	}
	return tw.Flush()
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := offlineAdapter(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "msadapter", Version: "1.0.0"}, nil)
	a.RegisterMCP(srv)
	logger.Info("msadapter: MCP server on stdio")
	return srv.Run(cmd.Context(), &mcp.StdioTransport{})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
