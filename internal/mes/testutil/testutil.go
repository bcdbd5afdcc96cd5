package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	erpentity "github.com/bitfantasy/nimo-mes/internal/erp/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_mes"
	JWTSecret  = "nimo-mes-jwt-secret-test"
)

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	root := projectRoot()
	if root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	}
}

// SetupTestDB creates a migrated test database.
// By default a sqlite file in the test's temp dir is used. When MES_TEST_PG_DSN is set,
// each test gets an isolated postgres schema that is dropped after the test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	var db *gorm.DB
	if dsn := os.Getenv("MES_TEST_PG_DSN"); dsn != "" {
		db = setupPostgres(t, dsn)
	} else {
		db = setupSQLite(t)
	}

	if err := erpentity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate erp tables: %v", err)
	}
	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate mes tables: %v", err)
	}
	return db
}

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mes_test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), gormConfig())
	if err != nil {
		t.Fatalf("Failed to open sqlite test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sqlite handle: %v", err)
	}
	// 单连接：事务串行执行
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func setupPostgres(t *testing.T, baseDSN string) *gorm.DB {
	t.Helper()

	// Create a unique test schema for isolation
	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database for schema setup: %v", err)
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// search_path in DSN so ALL pooled connections use the test schema
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), gormConfig())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			sqlClean, _ := cleanDB.DB()
			if sqlClean != nil {
				sqlClean.Close()
			}
		}
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// TokenOptions extra claims for GenerateTestToken
type TokenOptions struct {
	CompanyID string
	Timezone  string
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name string, permissions []string, opts TokenOptions) string {
	if permissions == nil {
		permissions = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":        userID,
		"uid":        userID,
		"name":       name,
		"company_id": opts.CompanyID,
		"tz":         opts.Timezone,
		"perms":      permissions,
		"iss":        "nimo-mes",
		"iat":        now.Unix(),
		"exp":        now.Add(24 * time.Hour).Unix(),
		"jti":        fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a default admin test user
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Admin", []string{"*"},
		TokenOptions{CompanyID: "company-001", Timezone: "UTC"})
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	return DoRawRequest(r, method, path, reqBody, "application/json", token)
}

// DoRawRequest executes a request with an arbitrary body and content type
func DoRawRequest(r *gin.Engine, method, path string, body io.Reader, contentType, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// ResponseData returns the "data" object of a response envelope
func ResponseData(w *httptest.ResponseRecorder) map[string]interface{} {
	data, _ := ParseResponse(w)["data"].(map[string]interface{})
	return data
}

// SeedUoM creates a unit of measure with the given rounding
func SeedUoM(t *testing.T, db *gorm.DB, name string, rounding float64) *erpentity.UnitOfMeasure {
	t.Helper()
	uom := &erpentity.UnitOfMeasure{Name: name, Rounding: rounding}
	if err := db.Create(uom).Error; err != nil {
		t.Fatalf("Failed to seed uom: %v", err)
	}
	return uom
}

// SeedWorkOrder creates a released work order
func SeedWorkOrder(t *testing.T, db *gorm.DB, code string, plannedQty float64, uom *erpentity.UnitOfMeasure) *erpentity.WorkOrder {
	t.Helper()
	wo := &erpentity.WorkOrder{
		WOCode:      code,
		ProductCode: "P-" + code,
		ProductName: "Product " + code,
		PlannedQty:  plannedQty,
		Status:      erpentity.WOStatusReleased,
	}
	if uom != nil {
		wo.UoMID = uom.ID
	}
	if err := db.Omit("UoM").Create(wo).Error; err != nil {
		t.Fatalf("Failed to seed work order: %v", err)
	}
	return wo
}

// SeedWarehouse creates an active warehouse for a company
func SeedWarehouse(t *testing.T, db *gorm.DB, code, companyID string) *erpentity.Warehouse {
	t.Helper()
	wh := &erpentity.Warehouse{
		Code:      code,
		Name:      "Warehouse " + code,
		CompanyID: companyID,
		Status:    erpentity.WarehouseStatusActive,
	}
	if err := db.Create(wh).Error; err != nil {
		t.Fatalf("Failed to seed warehouse: %v", err)
	}
	return wh
}
