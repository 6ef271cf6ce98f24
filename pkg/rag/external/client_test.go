package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"campus-qa-be/internal/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-14 is a Wednesday
var wednesday = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"vien_chuc": map[string]interface{}{
			"ma_vien_chuc": "GV001",
			"ho_va_ten":    "Nguyễn Văn An",
			"gioi_tinh":    0,
			"gmail":        "an@bdu.edu.vn",
			"chuc_danh":    "Giảng viên",
		},
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

const schedulePayload = `{"data":[
	{"ma_giang_vien":"GV001","ngay_hoc":"14-10-2026","tiet_bat_dau":7,"so_tiet":3,"ma_mon_hoc":"CS101","ten_mon_hoc":"Lập trình","ma_lop":"CNTT1","ma_phong":"A1"},
	{"ma_giang_vien":"GV001","ngay_hoc":"14-10-2026","tiet_bat_dau":1,"so_tiet":3,"ma_mon_hoc":"CS102","ten_mon_hoc":"Cơ sở dữ liệu","ma_lop":"CNTT2","ma_phong":"B2"},
	{"ma_giang_vien":"GV001","ngay_hoc":"20-10-2026","tiet_bat_dau":1,"so_tiet":4,"ma_mon_hoc":"CS101","ten_mon_hoc":"Lập trình","ma_lop":"CNTT1","ma_phong":"A1"},
	{"ma_giang_vien":"GV002","ngay_hoc":"14-10-2026","tiet_bat_dau":1,"so_tiet":2,"ma_mon_hoc":"EN100","ten_mon_hoc":"Tiếng Anh","ma_lop":"NN1","ma_phong":"C3"}
]}`

func TestLookup_PassesTokenAndFiltersOwnEntries(t *testing.T) {
	var calls int32
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, schedulePath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(schedulePayload))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", time.Second, logger.NewNopLogger())
	client.now = func() time.Time { return wednesday }
	token := signToken(t, "school-secret")

	data, err := client.Lookup(context.Background(), "Bearer "+token, "lịch dạy hôm nay")
	require.NoError(t, err)

	assert.Equal(t, "Bearer "+token, gotAuth)
	assert.Equal(t, "GV001", data.Lecturer.ID)
	assert.Equal(t, "male", data.Lecturer.Gender)
	assert.Equal(t, 3, data.Summary.TotalClasses)
	assert.Equal(t, 2, data.Summary.UniqueSubjects)
	assert.Equal(t, 10, data.Summary.TotalPeriods)
	assert.Equal(t, "14-10-2026", data.Summary.FirstDate)
	assert.Equal(t, "20-10-2026", data.Summary.LastDate)

	require.Equal(t, []string{"14-10-2026"}, data.Dates())
	today := data.DailySchedule["14-10-2026"]
	require.Len(t, today, 2)
	assert.Equal(t, 1, today[0].StartPeriod)
	assert.Equal(t, 7, today[1].StartPeriod)

	// second lookup is served from the per-lecturer cache
	_, err = client.Lookup(context.Background(), token, "tuần sau")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLookup_Errors(t *testing.T) {
	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer unauthorized.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	token := signToken(t, "school-secret")
	tests := []struct {
		name    string
		baseURL string
		secret  string
		token   string
		want    error
	}{
		{"not configured", "", "", token, ErrNotConfigured},
		{"garbage token", broken.URL, "", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", broken.URL, "other-secret", token, ErrInvalidToken},
		{"rejected token", unauthorized.URL, "school-secret", token, ErrUnauthorized},
		{"upstream failure", broken.URL, "", token, ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewHTTPClient(tt.baseURL, tt.secret, time.Second, logger.NewNopLogger())
			_, err := client.Lookup(context.Background(), tt.token, "lịch dạy")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFilterByQuery(t *testing.T) {
	schedule := map[string][]ScheduleEntry{
		"12-10-2026": {{StartPeriod: 1}}, // Monday
		"14-10-2026": {{StartPeriod: 1}},
		"17-10-2026": {{StartPeriod: 1}}, // Saturday
		"19-10-2026": {{StartPeriod: 1}}, // next Monday
		"21-10-2026": {{StartPeriod: 1}},
		"27-10-2026": {{StartPeriod: 1}},
	}
	keys := func(m map[string][]ScheduleEntry) []string {
		p := &PersonalData{DailySchedule: m}
		return p.Dates()
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"lịch dạy hôm nay", []string{"14-10-2026"}},
		{"lịch tuần này", []string{"12-10-2026", "14-10-2026", "17-10-2026"}},
		{"lịch tuần sau", []string{"19-10-2026", "21-10-2026"}},
		{"lịch tuần sau nữa", []string{"27-10-2026"}},
		{"cuối tuần này có lịch không", []string{"17-10-2026"}},
		{"đầu tuần sau dạy gì", []string{"19-10-2026", "21-10-2026"}},
		{"thứ 7 này có lịch không", []string{"17-10-2026"}},
		{"vi phạm lần thứ 2 bị xử lý sao", []string{"12-10-2026", "14-10-2026", "17-10-2026", "19-10-2026", "21-10-2026", "27-10-2026"}},
		{"lịch dạy ngày 21/10 ở phòng nào vậy", []string{"21-10-2026"}},
		{"", []string{"12-10-2026", "14-10-2026", "17-10-2026", "19-10-2026", "21-10-2026", "27-10-2026"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, keys(FilterByQuery(schedule, tt.query, wednesday)))
		})
	}
}
