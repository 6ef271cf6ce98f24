package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"campus-qa-be/internal/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
)

const (
	schedulePath        = "/app_cbgv/odp/vien_chuc/thoi_khoa_bieu"
	defaultTimeout      = 30 * time.Second
	defaultCacheTTL     = 5 * time.Minute
	maxErrorBodyPreview = 512
)

var (
	ErrNotConfigured = errors.New("personal data service is not configured")
	ErrInvalidToken  = errors.New("auth token could not be decoded")
	ErrUnauthorized  = errors.New("personal data service rejected the token")
	ErrUpstream      = errors.New("personal data service call failed")
)

// Client looks up the caller's personal data (teaching schedule) with their own token
type Client interface {
	Lookup(ctx context.Context, token, query string) (*PersonalData, error)
}

// Lecturer is the identity carried in the caller's token
type Lecturer struct {
	ID       string `json:"ma_giang_vien"`
	FullName string `json:"ten_giang_vien"`
	Gender   string `json:"gender"`
	Email    string `json:"gmail"`
	Title    string `json:"chuc_danh"`
	Position string `json:"vi_tri_viec_lam"`
	Degree   string `json:"trinh_do"`
	UnitCode string `json:"ma_don_vi"`
	Phone    string `json:"so_dien_thoai"`
}

// ScheduleEntry is one teaching slot as returned by the school system
type ScheduleEntry struct {
	LecturerID  string `json:"ma_giang_vien"`
	Date        string `json:"ngay_hoc"` // dd-mm-yyyy
	StartPeriod int    `json:"tiet_bat_dau"`
	Periods     int    `json:"so_tiet"`
	SubjectCode string `json:"ma_mon_hoc"`
	SubjectName string `json:"ten_mon_hoc"`
	ClassCode   string `json:"ma_lop"`
	Room        string `json:"ma_phong"`
	Students    int    `json:"so_luong_sv"`
}

type scheduleResponse struct {
	Data []ScheduleEntry `json:"data"`
}

type staffClaims struct {
	Staff struct {
		ID       string `json:"ma_vien_chuc"`
		FullName string `json:"ho_va_ten"`
		Gender   *int   `json:"gioi_tinh"`
		Email    string `json:"gmail"`
		Title    string `json:"chuc_danh"`
		Position string `json:"vi_tri_viec_lam"`
		Degree   string `json:"trinh_do"`
		UnitCode string `json:"ma_don_vi"`
		Phone    string `json:"so_dien_thoai"`
	} `json:"vien_chuc"`
	jwt.RegisteredClaims
}

type HTTPClient struct {
	baseURL    string
	jwtSecret  string
	httpClient *http.Client
	cache      *cache.Cache
	now        func() time.Time
	logger     logger.ILogger
}

// NewHTTPClient talks to the school system at baseURL. An empty jwtSecret
// decodes tokens without verifying them; the school system verifies anyway.
func NewHTTPClient(baseURL, jwtSecret string, timeout time.Duration, log logger.ILogger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		jwtSecret:  jwtSecret,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache.New(defaultCacheTTL, 2*defaultCacheTTL),
		now:        time.Now,
		logger:     log,
	}
}

// Lookup fetches the raw schedule (cached per lecturer) and narrows it to what the query asks for
func (c *HTTPClient) Lookup(ctx context.Context, token, query string) (*PersonalData, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))

	lecturer, err := c.decode(token)
	if err != nil {
		return nil, err
	}

	entries, err := c.schedule(ctx, token, lecturer.ID)
	if err != nil {
		return nil, err
	}
	return BuildPersonalData(lecturer, entries, query, c.now()), nil
}

func (c *HTTPClient) decode(token string) (Lecturer, error) {
	claims := &staffClaims{}
	var err error
	if c.jwtSecret == "" {
		_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	} else {
		_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(c.jwtSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
	}
	if err != nil {
		c.logger.Warn("EXTERNAL", "Token decode failed", map[string]interface{}{"error": err.Error()})
		return Lecturer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	s := claims.Staff
	gender := "female"
	if s.Gender != nil && *s.Gender == 0 {
		gender = "male"
	}
	return Lecturer{
		ID:       s.ID,
		FullName: s.FullName,
		Gender:   gender,
		Email:    s.Email,
		Title:    s.Title,
		Position: s.Position,
		Degree:   s.Degree,
		UnitCode: s.UnitCode,
		Phone:    s.Phone,
	}, nil
}

func (c *HTTPClient) schedule(ctx context.Context, token, lecturerID string) ([]ScheduleEntry, error) {
	cacheKey := "schedule:" + lecturerID
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.([]ScheduleEntry), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+schedulePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyPreview))
		c.logger.Error("EXTERNAL", "Schedule API returned an error", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(body),
		})
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var payload scheduleResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}

	c.cache.Set(cacheKey, payload.Data, cache.DefaultExpiration)
	c.logger.Info("EXTERNAL", "Schedule fetched", map[string]interface{}{
		"lecturer_id": lecturerID,
		"entries":     len(payload.Data),
	})
	return payload.Data, nil
}
