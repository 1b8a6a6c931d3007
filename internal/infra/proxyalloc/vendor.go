package proxyalloc

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"

	"waconnect/internal/domain/proxy"
	"waconnect/pkg/logger"
)

// HTTPVendor calls the proxy vendor's REST API, grounded on
// mt21625457-aicodex2api/backend/internal/repository/openai_oauth_service.go's
// req/v3 client-call pattern
// (client.R().SetContext(ctx)...SetSuccessResult(&out).Post(url)).
type HTTPVendor struct {
	client  *req.Client
	baseURL string
	zone    string
}

func NewHTTPVendor(baseURL, apiKey, zone string, log logger.Logger) *HTTPVendor {
	client := req.C().
		SetBaseURL(baseURL).
		SetCommonBearerAuthToken(apiKey).
		SetTimeout(10 * time.Second)

	return &HTTPVendor{client: client, baseURL: baseURL, zone: zone}
}

type purchaseResponse struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (v *HTTPVendor) PurchaseIP(ctx context.Context, country string) (proxy.Assignment, error) {
	var out purchaseResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetQueryParam("country", country).
		SetSuccessResult(&out).
		Post(fmt.Sprintf("/zone/%s/ips", v.zone))
	if err != nil {
		return proxy.Assignment{}, fmt.Errorf("purchase ip: %w", err)
	}
	if !resp.IsSuccessState() {
		return proxy.Assignment{}, fmt.Errorf("purchase ip: vendor returned %s", resp.Status)
	}

	return proxy.Assignment{
		Host:       out.IP,
		Port:       out.Port,
		Username:   out.Username,
		Password:   out.Password,
		Country:    country,
		VendorZone: v.zone,
	}, nil
}

func (v *HTTPVendor) ReleaseIP(ctx context.Context, assignment proxy.Assignment) error {
	resp, err := v.client.R().
		SetContext(ctx).
		SetQueryParam("ip", assignment.Host).
		Delete(fmt.Sprintf("/zone/%s/ips", v.zone))
	if err != nil {
		return fmt.Errorf("release ip: %w", err)
	}
	if !resp.IsSuccessState() {
		return fmt.Errorf("release ip: vendor returned %s", resp.Status)
	}
	return nil
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

func (v *HTTPVendor) CheckAvailability(ctx context.Context, country string) (bool, error) {
	var out availabilityResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetQueryParam("country", country).
		SetSuccessResult(&out).
		Get(fmt.Sprintf("/zone/%s/availability", v.zone))
	if err != nil {
		return false, fmt.Errorf("check availability: %w", err)
	}
	if !resp.IsSuccessState() {
		return false, fmt.Errorf("check availability: vendor returned %s", resp.Status)
	}
	return out.Available, nil
}
