package saml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

// backChannelClient builds the HTTP client used for SOAP back-channel
// exchanges. Each call gets a fresh client so no transport state is shared
// across goroutines, and redirects are refused: an artifact resolution or
// SOAP logout endpoint that answers with a redirect is misconfigured, and
// following it would leak the request body to an address the metadata never
// named.
func (sp *ServiceProvider) backChannelClient() *http.Client {
	client := cleanhttp.DefaultClient()
	client.Timeout = sp.cfg.backChannelTimeout()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client
}

// soapPost POSTs a SOAP envelope to destination and returns the response
// body. Context cancellation surfaces as KindCancelled; every other
// transport failure is KindBackChannelError.
func (sp *ServiceProvider) soapPost(ctx context.Context, op, destination string, envelope []byte) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := sp.cfg.loggerOrDefault()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build http request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "text/xml")
	httpReq.Header.Set("SOAPAction", "")

	resp, err := sp.backChannelClient().Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			logger.Debug("back-channel call cancelled", "op", op, "destination", destination)
			return nil, E(op, KindCancelled, "back-channel call cancelled", WithCause(err))
		}
		logger.Error("back-channel call failed", "op", op, "destination", destination, "error", err)
		return nil, E(op, KindBackChannelError, "back-channel call failed", WithCause(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("back-channel response unreadable", "op", op, "destination", destination, "error", err)
		return nil, E(op, KindBackChannelError, "failed to read back-channel response", WithCause(err))
	}

	if resp.StatusCode != http.StatusOK {
		logger.Error("back-channel endpoint returned non-200", "op", op, "destination", destination, "status", resp.StatusCode)
		return nil, E(op, KindBackChannelError, "unexpected status from back-channel endpoint",
			WithStatusCode(fmt.Sprintf("%d", resp.StatusCode)), WithRawXML(raw))
	}

	logger.Debug("back-channel call completed", "op", op, "destination", destination, "status", resp.StatusCode)

	return raw, nil
}
