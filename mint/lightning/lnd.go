package lightning

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	LND_HOST          = "LND_REST_HOST"
	LND_CERT_PATH     = "LND_CERT_PATH"
	LND_MACAROON_PATH = "LND_MACAROON_PATH"
)

const (
	InvoiceExpiryMins = 10
	FeePercent        = 1
)

type LndClient struct {
	host     string
	client   *http.Client
	macaroon string // hex encoded
}

func CreateLndClient() (*LndClient, error) {
	host := os.Getenv(LND_HOST)
	if host == "" {
		return nil, errors.New(LND_HOST + " cannot be empty")
	}
	certPath := os.Getenv(LND_CERT_PATH)
	if certPath == "" {
		return nil, errors.New(LND_CERT_PATH + " cannot be empty")
	}
	macaroonPath := os.Getenv(LND_MACAROON_PATH)
	if macaroonPath == "" {
		return nil, errors.New(LND_MACAROON_PATH + " cannot be empty")
	}

	macaroonBytes, err := os.ReadFile(macaroonPath)
	if err != nil {
		return nil, fmt.Errorf("error reading macaroon: os.ReadFile %v", err)
	}
	macaroonHex := hex.EncodeToString(macaroonBytes)
	client, err := httpClient(certPath)
	if err != nil {
		return nil, fmt.Errorf("error creating lnd client: %v", err)
	}

	return &LndClient{host: host, client: client, macaroon: macaroonHex}, nil
}

func (lnd *LndClient) ConnectionStatus() error {
	req, err := http.NewRequest(http.MethodGet, lnd.host+"/v1/getinfo", nil)
	if err != nil {
		return err
	}
	req.Header.Add("Grpc-Metadata-macaroon", lnd.macaroon)

	resp, err := lnd.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("lnd getinfo returned status %v", resp.StatusCode)
	}
	return nil
}

func httpClient(tlsCert string) (*http.Client, error) {
	cert, err := os.ReadFile(tlsCert)
	if err != nil {
		return nil, fmt.Errorf("error reading cert: %v", err)
	}
	certPool := x509.NewCertPool()
	certPool.AppendCertsFromPEM(cert)

	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: certPool,
			},
		},
	}, nil
}

type AddInvoiceResponse struct {
	Hash           string `json:"r_hash"`
	PaymentRequest string `json:"payment_request"`
}

func (lnd *LndClient) CreateInvoice(amount uint64) (Invoice, error) {
	body := map[string]any{"value": amount, "expiry": InvoiceExpiryMins * 60}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Invoice{}, err
	}

	req, err := http.NewRequest(http.MethodPost, lnd.host+"/v1/invoices", bytes.NewBuffer(jsonBody))
	if err != nil {
		return Invoice{}, err
	}
	req.Header.Add("Grpc-Metadata-macaroon", lnd.macaroon)

	resp, err := lnd.client.Do(req)
	if err != nil {
		return Invoice{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return Invoice{}, fmt.Errorf("unable to get invoice from lnd")
	}

	var res AddInvoiceResponse
	err = json.NewDecoder(resp.Body).Decode(&res)
	if err != nil {
		return Invoice{}, fmt.Errorf("error parsing response from lnd: %v", err)
	}

	hashBytes, err := base64.StdEncoding.DecodeString(res.Hash)
	if err != nil {
		return Invoice{}, fmt.Errorf("error decoding hash from lnd: %v", err)
	}
	hash := hex.EncodeToString(hashBytes)

	invoice := Invoice{PaymentRequest: res.PaymentRequest, PaymentHash: hash,
		Amount: amount,
		Expiry: uint64(time.Now().Add(time.Minute * InvoiceExpiryMins).Unix())}
	return invoice, nil
}

func (lnd *LndClient) InvoiceStatus(hash string) (Invoice, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return Invoice{}, fmt.Errorf("invalid hash provided")
	}

	b64EncodedHash := base64.URLEncoding.EncodeToString(hashBytes)
	url := lnd.host + "/v2/invoices/lookup?payment_hash=" + b64EncodedHash

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return Invoice{}, err
	}
	req.Header.Add("Grpc-Metadata-macaroon", lnd.macaroon)

	resp, err := lnd.client.Do(req)
	if err != nil {
		return Invoice{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return Invoice{}, fmt.Errorf("error getting invoice status")
	}

	var res struct {
		State          string `json:"state"`
		PaymentRequest string `json:"payment_request"`
		RPreimage      string `json:"r_preimage"`
		Value          string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Invoice{}, fmt.Errorf("error parsing response from lnd: %v", err)
	}

	var preimage string
	if res.RPreimage != "" {
		preimageBytes, err := base64.StdEncoding.DecodeString(res.RPreimage)
		if err == nil {
			preimage = hex.EncodeToString(preimageBytes)
		}
	}

	amount, _ := strconv.ParseUint(res.Value, 10, 64)

	return Invoice{
		PaymentRequest: res.PaymentRequest,
		PaymentHash:    hash,
		Preimage:       preimage,
		Settled:        res.State == "SETTLED",
		Amount:         amount,
	}, nil
}

func (lnd *LndClient) FeeReserve(amount uint64) uint64 {
	return uint64(float64(amount) * FeePercent / 100)
}

type lndSendPaymentResponse struct {
	PaymentError    string `json:"payment_error"`
	PaymentPreimage string `json:"payment_preimage"`
	PaymentRoute    struct {
		TotalFeesMsat string `json:"total_fees_msat"`
	} `json:"payment_route"`
}

func (lnd *LndClient) SendPayment(ctx context.Context, request string, maxFee uint64) (PaymentStatus, error) {
	url := lnd.host + "/v1/channels/transactions"

	body := map[string]any{
		"payment_request": request,
		"fee_limit":        map[string]any{"fixed": maxFee},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("invalid request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("error making payment: %v", err)
	}
	req.Header.Add("Grpc-Metadata-macaroon", lnd.macaroon)

	resp, err := lnd.client.Do(req)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("error making payment: %v", err)
	}
	defer resp.Body.Close()

	var res lndSendPaymentResponse
	err = json.NewDecoder(resp.Body).Decode(&res)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("error parsing response from lnd: %v", err)
	}

	if len(res.PaymentError) > 0 {
		return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("payment error: %v", res.PaymentError)
	}

	preimageBytes, err := hex.DecodeString(res.PaymentPreimage)
	preimage := res.PaymentPreimage
	if err == nil {
		preimage = hex.EncodeToString(preimageBytes)
	}

	var feePaid uint64
	if feeMsat, err := strconv.ParseUint(res.PaymentRoute.TotalFeesMsat, 10, 64); err == nil {
		feePaid = feeMsat / 1000
	}

	return PaymentStatus{Preimage: preimage, PaymentStatus: Succeeded, FeePaid: feePaid}, nil
}

func (lnd *LndClient) OutgoingPaymentStatus(ctx context.Context, hash string) (PaymentStatus, error) {
	url := lnd.host + "/v2/router/track/" + hash

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PaymentStatus{}, err
	}
	req.Header.Add("Grpc-Metadata-macaroon", lnd.macaroon)

	resp, err := lnd.client.Do(req)
	if err != nil {
		return PaymentStatus{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return PaymentStatus{}, errors.New("error tracking outgoing payment")
	}

	var res struct {
		Status   string `json:"status"`
		Preimage string `json:"payment_preimage"`
		FeeMsat  string `json:"fee_msat"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return PaymentStatus{}, fmt.Errorf("error parsing response from lnd: %v", err)
	}

	switch res.Status {
	case "SUCCEEDED":
		var feePaid uint64
		if feeMsat, err := strconv.ParseUint(res.FeeMsat, 10, 64); err == nil {
			feePaid = feeMsat / 1000
		}
		return PaymentStatus{Preimage: res.Preimage, PaymentStatus: Succeeded, FeePaid: feePaid}, nil
	case "FAILED":
		return PaymentStatus{PaymentStatus: Failed}, errors.New("payment failed")
	default:
		return PaymentStatus{PaymentStatus: Pending}, nil
	}
}

// SubscribeInvoice polls InvoiceStatus at a fixed interval until the invoice
// settles or ctx is canceled. lnd's REST gateway exposes a streaming
// subscribe-invoices endpoint, but polling keeps this client dependency-free
// of a chunked-JSON reader and is simple to reason about for a single
// invoice.
func (lnd *LndClient) SubscribeInvoice(ctx context.Context, paymentHash string) (InvoiceSubscriptionClient, error) {
	return &lndInvoiceSub{lnd: lnd, ctx: ctx, paymentHash: paymentHash}, nil
}

type lndInvoiceSub struct {
	lnd         *LndClient
	ctx         context.Context
	paymentHash string
}

func (sub *lndInvoiceSub) Recv() (Invoice, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sub.ctx.Done():
			return Invoice{}, sub.ctx.Err()
		case <-ticker.C:
			invoice, err := sub.lnd.InvoiceStatus(sub.paymentHash)
			if err != nil {
				return Invoice{}, err
			}
			if invoice.Settled {
				return invoice, nil
			}
		}
	}
}
