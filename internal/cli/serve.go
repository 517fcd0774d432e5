package cli

import (
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/qrefine/internal/codec"
)

// serveCmd exposes the configured model-backed SQL generator over gRPC so
// other refine processes can use provider "grpc" without holding API keys.
var serveCmd = &cobra.Command{
	Use:   "serve-generator",
	Short: "Serve the SQL generator over gRPC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		ctx := cmd.Context()

		if cfg.LLM.Provider == "grpc" {
			return errors.New("serve-generator needs a model provider, not grpc")
		}
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		gen, err := a.generator()
		if err != nil {
			return err
		}

		lis, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", listen, err)
		}
		srv := grpc.NewServer()
		codec.RegisterGenerator(srv, gen)

		go func() {
			<-ctx.Done()
			srv.GracefulStop()
		}()
		logger.Info("generator service listening", zap.String("addr", lis.Addr().String()), zap.String("provider", cfg.LLM.Provider))
		return srv.Serve(lis)
	},
}

func init() {
	serveCmd.Flags().String("listen", ":50051", "gRPC listen address")
}
