package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openkg/toolagent/internal/server"
)

var (
	serveTransport string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the capability catalog over MCP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveTransport, "transport", "t", "stdio", "MCP transport: stdio or sse")
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":18880", "Listen address for the sse transport")
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	toolServer := server.New(rt.agent, rt.store)

	switch serveTransport {
	case "stdio":
		return serveStdIO(ctx, toolServer)
	case "sse":
		return serveSSE(ctx, toolServer)
	default:
		return fmt.Errorf("unknown transport %q (want stdio or sse)", serveTransport)
	}
}

func serveStdIO(ctx context.Context, toolServer *server.Server) error {
	transport := mcp.NewStdIO(os.Stdin, os.Stdout)
	srv := mcp.NewServer(mcp.Info{
		Name:    "toolagent",
		Version: version,
	}, transport,
		mcp.WithServerPingInterval(30*time.Second),
		mcp.WithToolServer(toolServer),
	)

	go srv.Serve()
	fmt.Fprintln(os.Stderr, "toolagent serving MCP on stdio")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func serveSSE(ctx context.Context, toolServer *server.Server) error {
	messageURL := fmt.Sprintf("http://%s/message", listenHost(serveAddr))
	transport := mcp.NewSSEServer(messageURL)
	srv := mcp.NewServer(mcp.Info{
		Name:    "toolagent",
		Version: version,
	}, transport,
		mcp.WithServerPingInterval(30*time.Second),
		mcp.WithToolServer(toolServer),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", transport.HandleSSE())
	mux.Handle("/message", transport.HandleMessage())

	httpSrv := &http.Server{
		Addr:              serveAddr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Serve()
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "toolagent serving MCP over SSE on %s\n", serveAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "mcp shutdown: %v\n", err)
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// listenHost turns a listen address like ":18880" into a host clients can
// dial for the message endpoint.
func listenHost(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
