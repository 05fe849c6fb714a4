package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Monthlyaway/short-rules/internal/audit"
	"github.com/Monthlyaway/short-rules/internal/cache"
	"github.com/Monthlyaway/short-rules/internal/filter"
	"github.com/Monthlyaway/short-rules/internal/identity"
	"github.com/Monthlyaway/short-rules/internal/middleware"
	"github.com/Monthlyaway/short-rules/internal/repository"
	"github.com/Monthlyaway/short-rules/internal/service"
	"github.com/Monthlyaway/short-rules/internal/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestRouter wires the full request stack the way cmd/server does,
// on an in-memory database and Redis
func setupTestRouter(t *testing.T) *gin.Engine {
	require.NoError(t, utils.InitSnowflake(1, 1))
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo, err := repository.NewRuleRepositoryWithDB(db)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	listingCache := cache.NewListingCacheWithClient(client, time.Minute)

	recorder := audit.NewRecorder(repo, nil)
	resolver := identity.NewResolver(repo, recorder, 1, 3)
	svc := service.NewRuleService(repo, listingCache, filter.NewBloomFilter(1000, 0.01),
		recorder, nil, "short.ly", 10)

	ruleHandler := NewRuleHandler(svc, nil, "short.ly")
	session := middleware.Session(resolver, nil)

	router := gin.New()
	router.GET("/health", ruleHandler.HealthCheck)
	router.GET("/check-subpart", ruleHandler.CheckSubpart)
	router.GET("/suggest-subpart", ruleHandler.SuggestSubpart)
	router.GET("/:rule_id", ruleHandler.Redirect)
	router.GET("/", session, ruleHandler.Home)
	router.POST("/", session, ruleHandler.CreateRule)
	api := router.Group("/api/v1")
	{
		api.GET("/rules", ruleHandler.ListRules)
		api.GET("/rules/:rule_id", ruleHandler.GetRule)
		api.POST("/rules", session, ruleHandler.CreateRuleREST)
		api.DELETE("/rules/:rule_id", ruleHandler.DeleteRule)
	}
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload
}

func TestHealthCheck(t *testing.T) {
	router := setupTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckSubpart(t *testing.T) {
	router := setupTestRouter(t)

	// Missing parameter
	w := doJSON(t, router, http.MethodGet, "/check-subpart", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeBody(t, w), "error")

	// Empty parameter
	w = doJSON(t, router, http.MethodGet, "/check-subpart?subpart=", "", nil)
	assert.Contains(t, decodeBody(t, w), "error")

	// Free subpart
	w = doJSON(t, router, http.MethodGet, "/check-subpart?subpart=abc", "", nil)
	payload := decodeBody(t, w)
	assert.Equal(t, false, payload["is_subpart_exists"])

	// Taken subpart
	w = doJSON(t, router, http.MethodPost, "/",
		`{"link": "https://example.com", "subpart": "abc"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/check-subpart?subpart=abc", "", nil)
	payload = decodeBody(t, w)
	assert.Equal(t, true, payload["is_subpart_exists"])
}

func TestSuggestSubpart(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/suggest-subpart", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	payload := decodeBody(t, w)
	assert.NotEmpty(t, payload["subpart"])
}

func TestCreateRuleAndRedirect(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/",
		`{"link": "https://example.com/page?q=1", "subpart": "abc"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Decode typed: snowflake ids overflow float64's exact-integer range
	var resp struct {
		Data struct {
			Rule struct {
				ID    int64  `json:"id"`
				Alias string `json:"alias"`
			} `json:"rule"`
			Listing struct {
				FromCache bool `json:"from_cache"`
			} `json:"listing"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "short.ly/abc", resp.Data.Rule.Alias)
	assert.False(t, resp.Data.Listing.FromCache)

	// Redirect resolves the stored link unmodified
	w = doJSON(t, router, http.MethodGet, "/"+strconvItoa(resp.Data.Rule.ID), "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/page?q=1", w.Header().Get("Location"))
}

func TestRedirectUnknownRule(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/123456", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/not-a-number", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRuleValidationErrors(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/",
		`{"link": "ftp://example.com", "subpart": "abc"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	payload := decodeBody(t, w)
	errs := payload["errors"].(map[string]interface{})
	assert.Contains(t, errs, "link")
}

func TestHomeSessionAndListing(t *testing.T) {
	router := setupTestRouter(t)

	// First visit mints a session cookie
	w := doJSON(t, router, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	var sessionCookie *http.Cookie
	for _, cookie := range cookies {
		if cookie.Name == middleware.SessionCookie {
			sessionCookie = cookie
		}
	}
	require.NotNil(t, sessionCookie, "session cookie not set on first visit")

	payload := decodeBody(t, w)
	data := payload["data"].(map[string]interface{})
	form := data["form"].(map[string]interface{})
	assert.Equal(t, "short.ly", form["domain"])
	assert.NotEmpty(t, form["expire_date"])

	// Create a rule under this session, then list it
	w = doJSON(t, router, http.MethodPost, "/",
		`{"link": "https://example.com", "subpart": "mine"}`, []*http.Cookie{sessionCookie})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/", "", []*http.Cookie{sessionCookie})
	require.Equal(t, http.StatusOK, w.Code)
	payload = decodeBody(t, w)
	data = payload["data"].(map[string]interface{})
	listing := data["listing"].(map[string]interface{})
	rules := listing["rules"].([]interface{})
	require.Len(t, rules, 1)

	// A different session sees an empty listing, not a foreign cache entry
	w = doJSON(t, router, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload = decodeBody(t, w)
	data = payload["data"].(map[string]interface{})
	listing = data["listing"].(map[string]interface{})
	assert.Empty(t, listing["rules"])
}

func TestHomePaginationClamps(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/?page=0", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decodeBody(t, w)
	data := payload["data"].(map[string]interface{})
	listing := data["listing"].(map[string]interface{})
	assert.EqualValues(t, 1, listing["page"])

	w = doJSON(t, router, http.MethodGet, "/?page=99", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload = decodeBody(t, w)
	data = payload["data"].(map[string]interface{})
	listing = data["listing"].(map[string]interface{})
	assert.EqualValues(t, 1, listing["page"])
}

func TestRESTRules(t *testing.T) {
	router := setupTestRouter(t)

	// Empty listing
	w := doJSON(t, router, http.MethodGet, "/api/v1/rules", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Create through the REST surface
	w = doJSON(t, router, http.MethodPost, "/api/v1/rules",
		`{"link": "https://example.com", "subpart": "rest", "expire_date": "2030-06-15"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID         int64  `json:"id"`
		Alias      string `json:"alias"`
		ExpireDate string `json:"expire_date"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "short.ly/rest", created.Alias)
	assert.Equal(t, "2030-06-15T00:00:00Z", created.ExpireDate)

	// Fetch one
	w = doJSON(t, router, http.MethodGet, "/api/v1/rules/"+strconvItoa(created.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// List carries the serialized fields
	w = doJSON(t, router, http.MethodGet, "/api/v1/rules", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rules []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	for _, field := range []string{"id", "link", "alias", "owner", "subpart", "str_limit", "expire_date"} {
		assert.Contains(t, rules[0], field)
	}

	// Delete, then 404
	w = doJSON(t, router, http.MethodDelete, "/api/v1/rules/"+strconvItoa(created.ID), "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/v1/rules/"+strconvItoa(created.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func strconvItoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
