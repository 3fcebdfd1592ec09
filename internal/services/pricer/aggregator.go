package pricer

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/topup/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AggregatorQuoter asks a 0x-style swap API for a route.
type AggregatorQuoter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	taker      string
	slippage   decimal.Decimal
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewAggregatorQuoter creates a quoter. taker is the wallet that will submit the route,
// slippagePercent bounds the route's minimum output.
func NewAggregatorQuoter(httpClient *http.Client, baseURL, apiKey, taker string, slippagePercent decimal.Decimal) *AggregatorQuoter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &AggregatorQuoter{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		taker:      taker,
		slippage:   slippagePercent,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
		now:        time.Now,
	}
}

type aggregatorQuote struct {
	Price                string  `json:"price"`
	EstimatedPriceImpact *string `json:"estimatedPriceImpact"`
	BuyAmount            string  `json:"buyAmount"`
	SellAmount           string  `json:"sellAmount"`
	To                   string  `json:"to"`
	Data                 string  `json:"data"`
	Value                string  `json:"value"`
	AllowanceTarget      string  `json:"allowanceTarget"`
}

type aggregatorError struct {
	Code             int    `json:"code"`
	Reason           string `json:"reason"`
	ValidationErrors []struct {
		Field  string `json:"field"`
		Reason string `json:"reason"`
	} `json:"validationErrors"`
}

// Quote fetches a firm route for selling input. Impact and output are taken verbatim from the API.
func (q *AggregatorQuoter) Quote(ctx context.Context, input domain.TokenAmount, output domain.Token) (domain.Quote, error) {
	if input.IsZero() {
		return domain.Quote{}, errors.Wrap(domain.ErrQuoteUnavailable, "zero input")
	}

	params := url.Values{}
	params.Set("sellToken", input.Token.ID)
	params.Set("buyToken", output.ID)
	params.Set("sellAmount", input.Raw().String())
	params.Set("takerAddress", q.taker)
	params.Set("slippagePercentage", q.slippage.Div(hundred).String())

	var resp aggregatorQuote
	if err := q.get(ctx, "/swap/v1/quote", params, &resp); err != nil {
		return domain.Quote{}, err
	}

	if resp.EstimatedPriceImpact == nil || *resp.EstimatedPriceImpact == "" {
		return domain.Quote{}, errors.Wrap(domain.ErrQuoteUnavailable, "aggregator returned no price impact")
	}
	impact, err := decimal.NewFromString(*resp.EstimatedPriceImpact)
	if err != nil {
		return domain.Quote{}, errors.Wrap(domain.ErrQuoteUnavailable, "unparseable price impact")
	}

	buy, ok := new(big.Int).SetString(resp.BuyAmount, 10)
	if !ok || buy.Sign() <= 0 {
		return domain.Quote{}, errors.Wrapf(domain.ErrQuoteUnavailable, "aggregator returned buyAmount %q", resp.BuyAmount)
	}
	expected, err := domain.NewAmountFromRaw(output, buy)
	if err != nil {
		return domain.Quote{}, err
	}

	if resp.To == "" || resp.Data == "" {
		return domain.Quote{}, errors.Wrap(domain.ErrQuoteUnavailable, "aggregator returned no route")
	}
	calldata, err := hexutil.Decode(resp.Data)
	if err != nil {
		return domain.Quote{}, errors.Wrap(err, "decode route calldata")
	}
	value := new(big.Int)
	if resp.Value != "" {
		if _, ok := value.SetString(resp.Value, 10); !ok {
			return domain.Quote{}, fmt.Errorf("invalid route value %q", resp.Value)
		}
	}
	spender := resp.AllowanceTarget
	if spender == "" {
		spender = resp.To
	}

	return domain.Quote{
		Input:          input,
		ExpectedOutput: expected,
		PriceImpact:    impact,
		Price:          executionPrice(input, expected),
		Source:         "aggregator:" + q.baseURL,
		Route: &domain.Route{
			Target:   resp.To,
			Calldata: calldata,
			Value:    value,
			Spender:  spender,
		},
		CreatedAt: q.now(),
	}, nil
}

// RequiredInput asks the indicative price endpoint how much input buys desired.
func (q *AggregatorQuoter) RequiredInput(ctx context.Context, input domain.Token, desired domain.TokenAmount) (domain.TokenAmount, error) {
	if desired.IsZero() {
		return domain.ZeroAmount(input), nil
	}

	params := url.Values{}
	params.Set("sellToken", input.ID)
	params.Set("buyToken", desired.Token.ID)
	params.Set("buyAmount", desired.Raw().String())

	var resp aggregatorQuote
	if err := q.get(ctx, "/swap/v1/price", params, &resp); err != nil {
		return domain.TokenAmount{}, err
	}

	sell, ok := new(big.Int).SetString(resp.SellAmount, 10)
	if !ok || sell.Sign() <= 0 {
		return domain.TokenAmount{}, errors.Wrapf(domain.ErrQuoteUnavailable, "aggregator returned sellAmount %q", resp.SellAmount)
	}
	return domain.NewAmountFromRaw(input, sell)
}

func (q *AggregatorQuoter) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := q.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build aggregator request")
	}
	req.Header.Set("Accept", "application/json")
	if q.apiKey != "" {
		req.Header.Set("0x-api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return domain.NewQueryError("aggregator "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewQueryError("aggregator "+path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr aggregatorError
		_ = json.Unmarshal(raw, &apiErr)
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
			return errors.Wrapf(domain.ErrQuoteUnavailable, "aggregator: %s", describe(apiErr, raw))
		}
		return domain.NewQueryError("aggregator "+path, fmt.Errorf("status %d: %s", resp.StatusCode, describe(apiErr, raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return domain.NewQueryError("aggregator "+path, errors.Wrap(err, "decode response"))
	}
	return nil
}

func describe(apiErr aggregatorError, raw []byte) string {
	if apiErr.Reason == "" {
		return strings.TrimSpace(string(raw))
	}
	if len(apiErr.ValidationErrors) > 0 {
		return fmt.Sprintf("%s (%s: %s)", apiErr.Reason, apiErr.ValidationErrors[0].Field, apiErr.ValidationErrors[0].Reason)
	}
	return apiErr.Reason
}
