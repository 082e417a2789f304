package properties

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"estate-backend/internal/auth"
	"estate-backend/internal/cache"
	"estate-backend/internal/models"
	"estate-backend/internal/storage"
	"estate-backend/internal/tasks"
	"estate-backend/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type env struct {
	db    *gorm.DB
	app   *fiber.App
	cache *cache.Cache
	store *storage.Local
}

func setup(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupDB(t)
	cfg := testutil.Config()
	pc := cache.New("")
	store := storage.NewLocal(t.TempDir())

	d := tasks.NewDispatcher()
	d.Register(tasks.JobMediaProcess, MediaProcessHandler(store))
	pub := tasks.NewInlinePublisher(d, false)

	app := testutil.NewApp()
	app.Get("/api/properties", ListPropertiesHandler(pc))
	app.Get("/api/properties/:id", auth.OptionalJWT(cfg), GetPropertyHandler())
	app.Get("/api/properties/:id/places", ListPropertyPlacesHandler())

	api := app.Group("/api", auth.JWTMiddleware(cfg))
	api.Post("/properties", CreatePropertyHandler(pc))
	api.Put("/properties/:id", UpdatePropertyHandler(pc))
	api.Delete("/properties/:id", DeletePropertyHandler(pc, store))
	api.Post("/properties/:id/images", UploadImageHandler(pc, store, pub))
	api.Post("/properties/:id/images/:imageId/primary", SetPrimaryImageHandler(pc))
	api.Delete("/properties/:id/images/:imageId", DeleteImageHandler(pc, store))
	api.Post("/properties/:id/videos", UploadVideoHandler(store, pub))
	api.Post("/properties/:id/places", AttachPlaceHandler(pc))
	api.Delete("/properties/:id/places/:placeId", DetachPlaceHandler(pc))
	api.Post("/properties/:id/interest", ExpressInterestHandler())
	api.Delete("/properties/:id/interest", WithdrawInterestHandler())
	api.Get("/properties/:id/interests", ListInterestsHandler())
	api.Post("/places", auth.RequireStaff(), CreatePlaceHandler())
	api.Post("/admin/properties/import", auth.RequireStaff(), ImportHandler(pc))

	return &env{db: db, app: app, cache: pc, store: store}
}

func upload(t *testing.T, app *fiber.App, path, field, filename string, content []byte, extra map[string]string, authz string) int {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range extra {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	req.Header.Set(fiber.HeaderAuthorization, authz)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

const newListing = `{
	"title": "Borrowdale villa",
	"description": "Four bedrooms with pool",
	"property_type": "house",
	"listing_type": "both",
	"address": "1 Borrowdale Rd",
	"city": "Harare",
	"state": "Harare",
	"zip_code": "00263",
	"price": "450000",
	"bedrooms": 4,
	"bathrooms": "3.5",
	"area": "620"
}`

func TestCreateAndValidateProperty(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	tok := testutil.Bearer(t, owner)

	status, body := testutil.DoJSON(t, e.app, "POST", "/api/properties", newListing, tok)
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.EqualValues(t, owner.ID, body["owner_id"])
	assert.Equal(t, "available", body["status"])
	assert.Equal(t, "50", body["viewing_fee"])

	status, _ = testutil.Do(t, e.app, "POST", "/api/properties",
		`{"title":"x","description":"y","property_type":"land","listing_type":"rent","status":"sold","address":"a","city":"c","state":"s","zip_code":"z","price":"1","area":"10"}`, tok)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = testutil.Do(t, e.app, "POST", "/api/properties",
		`{"title":"x","description":"y","property_type":"land","address":"a","city":"c","state":"s","zip_code":"z","price":"1","area":"0"}`, tok)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = testutil.Do(t, e.app, "POST", "/api/properties", newListing, "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestListFiltersOrderingAndCache(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	cheap := testutil.CreateProperty(t, e.db, owner.ID, models.ListingRent)
	dear := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)
	require.NoError(t, e.db.Model(cheap).UpdateColumns(map[string]any{"price": "800", "city": "Bulawayo"}).Error)
	require.NoError(t, e.db.Model(dear).UpdateColumns(map[string]any{"price": "250000", "title": "Lakeside mansion"}).Error)

	status, body := testutil.DoJSON(t, e.app, "GET", "/api/properties?ordering=price", "", "")
	require.Equal(t, fiber.StatusOK, status)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.EqualValues(t, cheap.ID, results[0].(map[string]any)["id"])

	_, body = testutil.DoJSON(t, e.app, "GET", "/api/properties?ordering=-price", "", "")
	assert.EqualValues(t, dear.ID, body["results"].([]any)[0].(map[string]any)["id"])

	_, body = testutil.DoJSON(t, e.app, "GET", "/api/properties?city=Bulawayo", "", "")
	assert.EqualValues(t, 1, body["count"])

	_, body = testutil.DoJSON(t, e.app, "GET", "/api/properties?min_price=1000&max_price=300000", "", "")
	assert.EqualValues(t, 1, body["count"])

	_, body = testutil.DoJSON(t, e.app, "GET", "/api/properties?search=lakeside", "", "")
	assert.EqualValues(t, 1, body["count"])

	_, body = testutil.DoJSON(t, e.app, "GET", "/api/properties?listing_type=rent", "", "")
	assert.EqualValues(t, 1, body["count"])

	status, _ = testutil.Do(t, e.app, "GET", "/api/properties?min_price=abc", "", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	// a second identical request is served from the cache, a write invalidates it
	req := httptest.NewRequest("GET", "/api/properties?city=Harare", nil)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	resp, err = e.app.Test(httptest.NewRequest("GET", "/api/properties?city=Harare", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	status, _ = testutil.Do(t, e.app, "POST", "/api/properties", newListing, testutil.Bearer(t, owner))
	require.Equal(t, fiber.StatusCreated, status)
	_, body = testutil.DoJSON(t, e.app, "GET", "/api/properties?city=Harare", "", "")
	assert.EqualValues(t, 2, body["count"])
}

func TestPageSizeIsCapped(t *testing.T) {
	e := setup(t)
	_, body := testutil.DoJSON(t, e.app, "GET", "/api/properties?page_size=500", "", "")
	assert.EqualValues(t, 100, body["page_size"])
}

func TestGetLogsViewForAuthenticatedUsers(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	viewer := testutil.CreateUser(t, e.db, "viewer@example.com", models.RoleCustomer)
	p := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)
	path := fmt.Sprintf("/api/properties/%d", p.ID)

	status, _ := testutil.Do(t, e.app, "GET", path, "", "")
	require.Equal(t, fiber.StatusOK, status)
	status, _ = testutil.Do(t, e.app, "GET", path, "", testutil.Bearer(t, viewer))
	require.Equal(t, fiber.StatusOK, status)

	var n int64
	e.db.Model(&models.UserActivityLog{}).Where("action = ?", models.ActivityPropertyView).Count(&n)
	assert.EqualValues(t, 1, n)

	status, _ = testutil.Do(t, e.app, "GET", "/api/properties/9999", "", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestUpdateDeletePermissions(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	other := testutil.CreateUser(t, e.db, "other@example.com", models.RoleCustomer)
	staff := testutil.CreateUser(t, e.db, "staff@example.com", models.RoleAgencyStaff)
	p := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)
	path := fmt.Sprintf("/api/properties/%d", p.ID)

	status, _ := testutil.Do(t, e.app, "PUT", path, `{"title":"Mine now"}`, testutil.Bearer(t, other))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := testutil.DoJSON(t, e.app, "PUT", path, `{"title":"Renovated cottage","featured":true}`, testutil.Bearer(t, owner))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Renovated cottage", body["title"])

	status, _ = testutil.Do(t, e.app, "PUT", path, `{"status":"rented"}`, testutil.Bearer(t, owner))
	assert.Equal(t, fiber.StatusBadRequest, status)

	var logs int64
	e.db.Model(&models.AuditLog{}).Where("entity_type = ? AND entity_id = ?", "property", p.ID).Count(&logs)
	assert.EqualValues(t, 1, logs)

	status, _ = testutil.Do(t, e.app, "DELETE", path, "", testutil.Bearer(t, staff))
	require.Equal(t, fiber.StatusNoContent, status)
	status, _ = testutil.Do(t, e.app, "GET", path, "", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestImageUploadPrimaryAndProcessing(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	p := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)
	tok := testutil.Bearer(t, owner)
	path := fmt.Sprintf("/api/properties/%d/images", p.ID)

	status := upload(t, e.app, path, "image", "notes.txt", []byte("plain text, not an image"), nil, tok)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status = upload(t, e.app, path, "image", "front.png", pngHeader, map[string]string{"is_primary": "true"}, tok)
	require.Equal(t, fiber.StatusCreated, status)

	status = upload(t, e.app, path, "image", "back.png", pngHeader, map[string]string{"is_primary": "true"}, tok)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status = upload(t, e.app, path, "image", "gif.gif", []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;"), nil, tok)
	require.Equal(t, fiber.StatusCreated, status)

	var imgs []models.PropertyImage
	require.NoError(t, e.db.Order("id").Find(&imgs, "property_id = ?", p.ID).Error)
	require.Len(t, imgs, 2)
	assert.Equal(t, "image/png", imgs[0].MIMEType)
	assert.Equal(t, models.ProcessingDone, imgs[0].ProcessingStatus)
	assert.True(t, e.store.Exists(imgs[0].Path))

	status, _ = testutil.Do(t, e.app, "POST", fmt.Sprintf("%s/%d/primary", path, imgs[1].ID), "", tok)
	require.Equal(t, fiber.StatusOK, status)
	var primaries []models.PropertyImage
	e.db.Where("property_id = ? AND is_primary = ?", p.ID, true).Find(&primaries)
	require.Len(t, primaries, 1)
	assert.Equal(t, imgs[1].ID, primaries[0].ID)

	_, body := testutil.DoJSON(t, e.app, "GET", fmt.Sprintf("/api/properties/%d", p.ID), "", "")
	assert.Equal(t, "/media/"+imgs[1].Path, body["primary_image"])

	status, _ = testutil.Do(t, e.app, "DELETE", fmt.Sprintf("%s/%d", path, imgs[0].ID), "", tok)
	require.Equal(t, fiber.StatusNoContent, status)
	assert.False(t, e.store.Exists(imgs[0].Path))
}

func TestVideoUploadChecksExtension(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	p := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)
	tok := testutil.Bearer(t, owner)
	path := fmt.Sprintf("/api/properties/%d/videos", p.ID)

	status := upload(t, e.app, path, "video", "tour.avi", []byte("data"), nil, tok)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status = upload(t, e.app, path, "video", "tour.MP4", []byte("data"), nil, tok)
	require.Equal(t, fiber.StatusCreated, status)

	var v models.PropertyVideo
	require.NoError(t, e.db.First(&v, "property_id = ?", p.ID).Error)
	assert.Equal(t, models.ProcessingDone, v.ProcessingStatus)
	assert.EqualValues(t, 4, v.Size)
}

func TestPlacesAttachAndDetach(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	staff := testutil.CreateUser(t, e.db, "staff@example.com", models.RoleAgencyStaff)
	p := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)

	status, _ := testutil.Do(t, e.app, "POST", "/api/places", `{"name":"St John's","place_type":"school"}`, testutil.Bearer(t, owner))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, place := testutil.DoJSON(t, e.app, "POST", "/api/places", `{"name":"St John's","place_type":"school"}`, testutil.Bearer(t, staff))
	require.Equal(t, fiber.StatusCreated, status)

	attach := fmt.Sprintf("/api/properties/%d/places", p.ID)
	status, _ = testutil.Do(t, e.app, "POST", attach, fmt.Sprintf(`{"place_id":%v,"distance":"1.5"}`, place["id"]), testutil.Bearer(t, owner))
	require.Equal(t, fiber.StatusCreated, status)
	status, _ = testutil.Do(t, e.app, "POST", attach, fmt.Sprintf(`{"place_id":%v,"distance":"2.0"}`, place["id"]), testutil.Bearer(t, owner))
	require.Equal(t, fiber.StatusCreated, status)

	status, links := testutil.DoList(t, e.app, "GET", attach, "", "")
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, links, 1)
	assert.Equal(t, "2", links[0]["distance"])

	status, _ = testutil.Do(t, e.app, "DELETE", fmt.Sprintf("%s/%v", attach, place["id"]), "", testutil.Bearer(t, owner))
	require.Equal(t, fiber.StatusNoContent, status)
	status, _ = testutil.Do(t, e.app, "DELETE", fmt.Sprintf("%s/%v", attach, place["id"]), "", testutil.Bearer(t, owner))
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestInterests(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	buyer := testutil.CreateUser(t, e.db, "buyer@example.com", models.RoleCustomer)
	p := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)
	path := fmt.Sprintf("/api/properties/%d/interest", p.ID)

	status, _ := testutil.Do(t, e.app, "POST", path, "", testutil.Bearer(t, buyer))
	require.Equal(t, fiber.StatusCreated, status)
	status, _ = testutil.Do(t, e.app, "POST", path, "", testutil.Bearer(t, buyer))
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = testutil.Do(t, e.app, "POST", path, "", testutil.Bearer(t, owner))
	assert.Equal(t, fiber.StatusBadRequest, status)

	list := fmt.Sprintf("/api/properties/%d/interests", p.ID)
	status, _ = testutil.Do(t, e.app, "GET", list, "", testutil.Bearer(t, buyer))
	assert.Equal(t, fiber.StatusForbidden, status)
	status, users := testutil.DoList(t, e.app, "GET", list, "", testutil.Bearer(t, owner))
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, users, 1)
	assert.Equal(t, "buyer@example.com", users[0]["email"])

	status, _ = testutil.Do(t, e.app, "DELETE", path, "", testutil.Bearer(t, buyer))
	assert.Equal(t, fiber.StatusNoContent, status)
}

func xlsxBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestImportXLSX(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	data := xlsxBytes(t, [][]any{
		{"Title", "Property_Type", "Listing_Type", "Address", "City", "State", "Zip_Code", "Price", "Area", "Bedrooms"},
		{"Avondale flat", "apartment", "rent", "3 King George Rd", "Harare", "Harare", "00263", "650", "80", 2},
		{"Broken row", "castle", "sale", "x", "Harare", "Harare", "00263", "10", "10", 1},
		{"Empty plot", "land", "", "Plot 9", "Mutare", "Manicaland", "00263", "15000", "2000", ""},
	})

	res, err := ImportXLSX(e.db, bytes.NewReader(data), owner.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Row)

	var plot models.Property
	require.NoError(t, e.db.Where("title = ?", "Empty plot").First(&plot).Error)
	assert.Equal(t, models.ListingSale, plot.ListingType)
	assert.True(t, plot.Area.Equal(decimal.NewFromInt(2000)))

	_, err = ImportXLSX(e.db, bytes.NewReader(xlsxBytes(t, [][]any{{"title", "city"}})), owner.ID, nil)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestImportEndpointRequiresStaff(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	staff := testutil.CreateUser(t, e.db, "staff@example.com", models.RoleAgencyStaff)
	data := xlsxBytes(t, [][]any{
		{"title", "property_type", "address", "city", "state", "zip_code", "price", "area"},
		{"Office block", "commercial", "5 Jason Moyo", "Harare", "Harare", "00263", "900000", "1500"},
	})

	status := upload(t, e.app, "/api/admin/properties/import", "file", "listings.xlsx", data, nil, testutil.Bearer(t, owner))
	assert.Equal(t, fiber.StatusForbidden, status)

	status = upload(t, e.app, "/api/admin/properties/import", "file", "listings.xlsx", data, nil, testutil.Bearer(t, staff))
	require.Equal(t, fiber.StatusOK, status)
	var n int64
	e.db.Model(&models.Property{}).Where("owner_id = ?", staff.ID).Count(&n)
	assert.EqualValues(t, 1, n)
}

func TestUnfeatureExpired(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	expired := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)
	current := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)
	now := time.Now()
	require.NoError(t, e.db.Model(expired).UpdateColumns(map[string]any{"featured": true, "featured_until": now.Add(-time.Hour)}).Error)
	require.NoError(t, e.db.Model(current).UpdateColumns(map[string]any{"featured": true, "featured_until": now.Add(time.Hour)}).Error)

	n, err := UnfeatureExpired(e.db, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var got models.Property
	require.NoError(t, e.db.First(&got, expired.ID).Error)
	assert.False(t, got.Featured)
	var still models.Property
	require.NoError(t, e.db.First(&still, current.ID).Error)
	assert.True(t, still.Featured)
}

func TestOnePrimaryImagePerProperty(t *testing.T) {
	e := setup(t)
	owner := testutil.CreateUser(t, e.db, "owner@example.com", models.RoleCustomer)
	p := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)
	other := testutil.CreateProperty(t, e.db, owner.ID, models.ListingSale)

	image := func(propertyID uint, primary bool) error {
		return e.db.Create(&models.PropertyImage{PropertyID: propertyID, Path: "x.png", IsPrimary: primary}).Error
	}
	require.NoError(t, image(p.ID, false))
	require.NoError(t, image(p.ID, false))
	require.NoError(t, image(p.ID, true))
	require.NoError(t, image(other.ID, true))

	err := image(p.ID, true)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	var primaries int64
	e.db.Model(&models.PropertyImage{}).Where("property_id = ? AND is_primary = ?", p.ID, true).Count(&primaries)
	assert.EqualValues(t, 1, primaries)
}
