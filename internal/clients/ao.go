package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/everFinance/goar"
	goartypes "github.com/everFinance/goar/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/topup/pkg/retrier"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	aoDataProtocol = "ao"
	aoVariant      = "ao.TN.1"
	// dryRunPlaceholder fills the fields a compute unit ignores for dry runs.
	dryRunPlaceholder = "1234"
	creditNoticePage  = 50
)

// ErrResultPending means the compute unit has not evaluated the message yet.
var ErrResultPending = errors.New("ao result not available yet")

// Tag is an ANS-104 tag.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SignedMessage is a signed data item ready to be posted to a messenger unit.
type SignedMessage struct {
	ID  string
	Raw []byte
}

// MessageSigner signs AO messages for the operating wallet.
type MessageSigner interface {
	Address() string
	SignMessage(target string, data []byte, tags []Tag) (SignedMessage, error)
}

type walletSigner struct {
	items   *goar.ItemSigner
	address string
}

// NewWalletSigner loads an Arweave JWK wallet and signs ANS-104 data items with it.
func NewWalletSigner(path string) (MessageSigner, error) {
	signer, err := goar.NewSignerFromPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "load ao wallet")
	}
	items, err := goar.NewItemSigner(signer)
	if err != nil {
		return nil, errors.Wrap(err, "create item signer")
	}
	return &walletSigner{items: items, address: signer.Address}, nil
}

func (s *walletSigner) Address() string { return s.address }

func (s *walletSigner) SignMessage(target string, data []byte, tags []Tag) (SignedMessage, error) {
	itemTags := make([]goartypes.Tag, 0, len(tags))
	for _, t := range tags {
		itemTags = append(itemTags, goartypes.Tag{Name: t.Name, Value: t.Value})
	}

	item, err := s.items.CreateAndSignItem(data, target, "", itemTags)
	if err != nil {
		return SignedMessage{}, errors.Wrap(err, "sign data item")
	}
	return SignedMessage{ID: item.Id, Raw: item.ItemBinary}, nil
}

// CreditNotice is a Credit-Notice message indexed on Arweave.
type CreditNotice struct {
	ID        string
	Recipient string
	Quantity  *big.Int
	Sender    string
	Tags      map[string]string
	// Timestamp block time; pending messages are reported at query time.
	Timestamp time.Time
}

// AOClient talks to an AO compute unit, messenger unit and the Arweave GraphQL gateway.
type AOClient struct {
	httpClient *http.Client
	cuURL      string
	muURL      string
	graphqlURL string
	signer     MessageSigner
	limiter    *rate.Limiter
	results    *retrier.Retrier
	now        func() time.Time
}

// AOOption configures an AOClient.
type AOOption func(*AOClient)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) AOOption {
	return func(a *AOClient) {
		a.httpClient = c
	}
}

// WithRateLimit bounds requests per second across all endpoints.
func WithRateLimit(perSecond float64, burst int) AOOption {
	return func(a *AOClient) {
		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithResultRetrier overrides how long message results are polled.
func WithResultRetrier(r *retrier.Retrier) AOOption {
	return func(a *AOClient) {
		a.results = r
	}
}

// NewAOClient creates an AO client. signer may be nil for read-only use.
func NewAOClient(cuURL, muURL, graphqlURL string, signer MessageSigner, opts ...AOOption) *AOClient {
	c := &AOClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cuURL:      strings.TrimRight(cuURL, "/"),
		muURL:      strings.TrimRight(muURL, "/"),
		graphqlURL: graphqlURL,
		signer:     signer,
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		results: retrier.New(
			retrier.WithInitialInterval(2*time.Second),
			retrier.WithMaxInterval(15*time.Second),
			retrier.WithMaxRetries(10),
			retrier.WithRetryIf(func(err error) bool { return errors.Is(err, ErrResultPending) }),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Address returns the operating wallet address, empty without a signer.
func (c *AOClient) Address() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.Address()
}

type dryRunRequest struct {
	ID     string `json:"Id"`
	Target string `json:"Target"`
	Owner  string `json:"Owner"`
	Anchor string `json:"Anchor"`
	Data   string `json:"Data"`
	Tags   []Tag  `json:"Tags"`
}

type aoMessage struct {
	Data   jsoniter.RawMessage `json:"Data"`
	Tags   []Tag               `json:"Tags"`
	Target string              `json:"Target"`
}

type aoResult struct {
	Messages []aoMessage `json:"Messages"`
	Error    any         `json:"Error"`
}

// Balance returns the balance of owner held by the token process, via a dry run.
func (c *AOClient) Balance(ctx context.Context, process, owner string) (*big.Int, error) {
	req := dryRunRequest{
		ID:     dryRunPlaceholder,
		Target: process,
		Owner:  dryRunPlaceholder,
		Anchor: "0",
		Data:   dryRunPlaceholder,
		Tags: append(protocolTags(),
			Tag{Name: "Action", Value: "Balance"},
			Tag{Name: "Recipient", Value: owner},
		),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode dry-run")
	}

	endpoint := fmt.Sprintf("%s/dry-run?process-id=%s", c.cuURL, url.QueryEscape(process))
	raw, status, err := c.do(ctx, http.MethodPost, endpoint, "application/json", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("dry-run balance: status %d: %s", status, truncate(raw))
	}

	var res aoResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "decode dry-run")
	}
	if msg := errorText(res.Error); msg != "" {
		return nil, fmt.Errorf("dry-run balance: %s", msg)
	}
	if len(res.Messages) == 0 {
		return nil, errors.New("dry-run balance: no messages in result")
	}

	return parseBalance(res.Messages[0])
}

func parseBalance(m aoMessage) (*big.Int, error) {
	if v, ok := tagValue(m.Tags, "Balance"); ok {
		return parseQuantity(v)
	}

	// Data stays raw so numeric balances keep every digit
	raw := bytes.TrimSpace(m.Data)
	switch {
	case len(raw) == 0:
		return nil, errors.New("dry-run balance: empty data")
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.Wrap(err, "dry-run balance: decode data")
		}
		return parseQuantity(strings.Trim(s, `"`))
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		return parseNumber(string(raw))
	default:
		return nil, fmt.Errorf("dry-run balance: unexpected data %s", truncate(raw))
	}
}

// parseNumber accepts integral JSON numbers, including exponent forms like 3.5e11.
func parseNumber(v string) (*big.Int, error) {
	if n, err := parseQuantity(v); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsInteger() || d.IsNegative() {
		return nil, fmt.Errorf("invalid quantity %q", v)
	}
	return d.BigInt(), nil
}

// Transfer sends a Transfer message to the token process and waits until the
// compute unit reports a Debit-Notice. It returns the message id.
func (c *AOClient) Transfer(ctx context.Context, process, recipient string, quantity *big.Int) (string, error) {
	id, err := c.SendMessage(ctx, process, nil, []Tag{
		{Name: "Action", Value: "Transfer"},
		{Name: "Recipient", Value: recipient},
		{Name: "Quantity", Value: quantity.String()},
	})
	if err != nil {
		return "", err
	}

	if err := c.confirmTransfer(ctx, process, id); err != nil {
		return id, err
	}
	return id, nil
}

// SendMessage signs a message for process and posts it to the messenger unit.
func (c *AOClient) SendMessage(ctx context.Context, process string, data []byte, tags []Tag) (string, error) {
	if c.signer == nil {
		return "", errors.New("ao client has no signer")
	}
	if len(data) == 0 {
		data = []byte(" ")
	}

	msg, err := c.signer.SignMessage(process, data, append(protocolTags(), tags...))
	if err != nil {
		return "", err
	}

	raw, status, err := c.do(ctx, http.MethodPost, c.muURL+"/", "application/octet-stream", msg.Raw)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("messenger unit rejected message %s: status %d: %s", msg.ID, status, truncate(raw))
	}

	return msg.ID, nil
}

func (c *AOClient) confirmTransfer(ctx context.Context, process, id string) error {
	res, err := retrier.DoWithData(c.results, ctx, func(ctx context.Context) (aoResult, error) {
		return c.result(ctx, process, id)
	})
	if err != nil {
		return errors.Wrapf(err, "result of %s", id)
	}

	if msg := errorText(res.Error); msg != "" {
		return fmt.Errorf("transfer %s failed: %s", id, msg)
	}
	for _, m := range res.Messages {
		action, _ := tagValue(m.Tags, "Action")
		switch action {
		case "Debit-Notice":
			return nil
		case "Transfer-Error":
			reason, _ := tagValue(m.Tags, "Error")
			return fmt.Errorf("transfer %s rejected: %s", id, reason)
		}
	}

	return fmt.Errorf("transfer %s produced no Debit-Notice", id)
}

func (c *AOClient) result(ctx context.Context, process, id string) (aoResult, error) {
	endpoint := fmt.Sprintf("%s/result/%s?process-id=%s", c.cuURL, url.PathEscape(id), url.QueryEscape(process))
	raw, status, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return aoResult{}, errors.Wrap(ErrResultPending, err.Error())
	}
	if status == http.StatusNotFound || status >= 500 {
		return aoResult{}, errors.Wrapf(ErrResultPending, "status %d", status)
	}
	if status != http.StatusOK {
		return aoResult{}, fmt.Errorf("result %s: status %d: %s", id, status, truncate(raw))
	}

	var res aoResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return aoResult{}, errors.Wrap(err, "decode result")
	}
	return res, nil
}

const creditNoticeQuery = `query($recipients: [String!], $process: [String!], $first: Int) {
  transactions(
    recipients: $recipients
    tags: [{ name: "Action", values: ["Credit-Notice"] }, { name: "From-Process", values: $process }]
    first: $first
    sort: HEIGHT_DESC
  ) {
    edges { node { id recipient tags { name value } block { timestamp } } }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		Transactions struct {
			Edges []struct {
				Node struct {
					ID        string `json:"id"`
					Recipient string `json:"recipient"`
					Tags      []Tag  `json:"tags"`
					Block     *struct {
						Timestamp int64 `json:"timestamp"`
					} `json:"block"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"transactions"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// CreditNotices returns the most recent Credit-Notice messages sent by process to recipient, newest first.
func (c *AOClient) CreditNotices(ctx context.Context, process, recipient string) ([]CreditNotice, error) {
	body, err := json.Marshal(graphqlRequest{
		Query: creditNoticeQuery,
		Variables: map[string]any{
			"recipients": []string{recipient},
			"process":    []string{process},
			"first":      creditNoticePage,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode graphql query")
	}

	raw, status, err := c.do(ctx, http.MethodPost, c.graphqlURL, "application/json", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("graphql: status %d: %s", status, truncate(raw))
	}

	var resp graphqlResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode graphql response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql: %s", resp.Errors[0].Message)
	}

	now := c.now()
	notices := make([]CreditNotice, 0, len(resp.Data.Transactions.Edges))
	for _, edge := range resp.Data.Transactions.Edges {
		node := edge.Node
		tags := make(map[string]string, len(node.Tags))
		for _, t := range node.Tags {
			tags[t.Name] = t.Value
		}

		qty, err := parseQuantity(tags["Quantity"])
		if err != nil {
			continue
		}

		ts := now
		if node.Block != nil && node.Block.Timestamp > 0 {
			ts = time.Unix(node.Block.Timestamp, 0)
		}

		notices = append(notices, CreditNotice{
			ID:        node.ID,
			Recipient: node.Recipient,
			Quantity:  qty,
			Sender:    tags["Sender"],
			Tags:      tags,
			Timestamp: ts,
		})
	}

	return notices, nil
}

func (c *AOClient) do(ctx context.Context, method, endpoint, contentType string, body []byte) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, errors.Wrap(err, "build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "read response")
	}
	return raw, resp.StatusCode, nil
}

func protocolTags() []Tag {
	return []Tag{
		{Name: "Data-Protocol", Value: aoDataProtocol},
		{Name: "Variant", Value: aoVariant},
		{Name: "Type", Value: "Message"},
	}
}

func tagValue(tags []Tag, name string) (string, bool) {
	for _, t := range tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

func parseQuantity(v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid quantity %q", v)
	}
	return n, nil
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, _ := json.Marshal(e)
		if string(b) == "{}" || string(b) == "null" {
			return ""
		}
		return string(b)
	}
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
