package bridge

import (
	"context"
	"fmt"
	"os"

	"github.com/danielpatrickdp/hpsearch/internal/objective"
	"github.com/danielpatrickdp/hpsearch/internal/study"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// #region client-struct
// Client is what a Go trainer uses to report to a running study.
type Client struct {
	conn   *grpc.ClientConn
	client ReportServiceClient
	runID  string
}

// #endregion client-struct

// #region constructor
// NewClient dials the bridge at addr and reports on behalf of runID.
func NewClient(addr, runID string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, client: NewReportServiceClient(conn), runID: runID}, nil
}

// NewClientFromEnv reads the address and run id the study passed to the
// training command.
func NewClientFromEnv() (*Client, error) {
	addr := os.Getenv(objective.EnvReportAddr)
	runID := os.Getenv(objective.EnvRunID)
	if addr == "" || runID == "" {
		return nil, fmt.Errorf("%s and %s must be set", objective.EnvReportAddr, objective.EnvRunID)
	}
	return NewClient(addr, runID)
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc ReportServiceClient, runID string) *Client {
	return &Client{client: svc, runID: runID}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region report
// ReportEpoch sends one epoch's metrics and returns the study's verdict.
// The trainer must stop on anything but VerdictContinue.
func (c *Client) ReportEpoch(ctx context.Context, epoch int, m objective.Metrics) (study.Verdict, error) {
	req, err := encodeReport(c.runID, epoch, m)
	if err != nil {
		return study.VerdictFail, fmt.Errorf("encode report: %w", err)
	}
	resp, err := c.client.ReportEpoch(ctx, req)
	if err != nil {
		return study.VerdictFail, fmt.Errorf("report epoch rpc: %w", err)
	}
	return decodeVerdict(resp)
}

// ReportFinal sends the metrics of the finished run.
func (c *Client) ReportFinal(ctx context.Context, m objective.Metrics) error {
	req, err := encodeReport(c.runID, 0, m)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := c.client.ReportFinal(ctx, req); err != nil {
		return fmt.Errorf("report final rpc: %w", err)
	}
	return nil
}

// #endregion report
