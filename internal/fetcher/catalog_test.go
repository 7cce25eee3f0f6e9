package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const listingPage1 = `<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults ContainerName="publicdata">
  <Blobs>
    <Blob>
      <Name>Datasets/Wholesale/BidsAndOffers/Offers/2024/20240301_Offers.csv</Name>
      <Properties><Last-Modified>Sat, 02 Mar 2024 03:10:00 GMT</Last-Modified></Properties>
    </Blob>
    <Blob>
      <Name>Datasets/Wholesale/BidsAndOffers/Offers/2024/20240303_Offers.csv</Name>
      <Properties><Last-Modified>Mon, 04 Mar 2024 03:10:00 GMT</Last-Modified></Properties>
    </Blob>
    <Blob>
      <Name>Datasets/Wholesale/BidsAndOffers/Offers/2024/README.txt</Name>
      <Properties><Last-Modified>Mon, 04 Mar 2024 03:10:00 GMT</Last-Modified></Properties>
    </Blob>
    <Blob>
      <Name>Datasets/Wholesale/BidsAndOffers/Offers/2024/20240304_Offers.csv</Name>
      <Properties></Properties>
    </Blob>
    <Blob>
      <Name>Datasets/Wholesale/BidsAndOffers/Offers/2024/20241399_Offers.csv</Name>
      <Properties><Last-Modified>Mon, 04 Mar 2024 03:10:00 GMT</Last-Modified></Properties>
    </Blob>
  </Blobs>
  <NextMarker>%s</NextMarker>
</EnumerationResults>`

const listingPage2 = `<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults ContainerName="publicdata">
  <Blobs>
    <Blob>
      <Name>Datasets/Wholesale/BidsAndOffers/Offers/2024/20240302_Offers.csv</Name>
      <Properties><Last-Modified>Sun, 03 Mar 2024 03:10:00 GMT</Last-Modified></Properties>
    </Blob>
  </Blobs>
  <NextMarker />
</EnumerationResults>`

func TestCatalogListFilesSortedAndFiltered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, listingPage1, "")
	}))
	defer srv.Close()

	cat := NewCatalog(CatalogOptions{URL: srv.URL + "/publicdata?restype=container&comp=list"}, NewClient(ClientOptions{Timeout: time.Second}), noopLogger())
	files, err := cat.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("listing should succeed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 offer files, got %d: %+v", len(files), files)
	}
	if got := files[0].DateString(); got != "2024-03-03" {
		t.Fatalf("newest file should come first, got %s", got)
	}
	if got := files[1].DateString(); got != "2024-03-01" {
		t.Fatalf("expected 2024-03-01 second, got %s", got)
	}
	want := time.Date(2024, 3, 4, 3, 10, 0, 0, time.UTC)
	if !files[0].LastModified.Equal(want) {
		t.Fatalf("last modified = %s, want %s", files[0].LastModified, want)
	}
	if files[0].LastModified.Location() != time.UTC {
		t.Fatal("last modified should be UTC")
	}
}

func TestCatalogFollowsNextMarker(t *testing.T) {
	var markers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		marker := r.URL.Query().Get("marker")
		markers = append(markers, marker)
		if marker == "" {
			fmt.Fprintf(w, listingPage1, "page-2")
			return
		}
		fmt.Fprint(w, listingPage2)
	}))
	defer srv.Close()

	cat := NewCatalog(CatalogOptions{URL: srv.URL + "/?comp=list"}, NewClient(ClientOptions{}), noopLogger())
	files, err := cat.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("listing should succeed: %v", err)
	}
	if len(markers) != 2 || markers[1] != "page-2" {
		t.Fatalf("expected second request with marker, got %v", markers)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files across pages, got %d", len(files))
	}
	for i, want := range []string{"2024-03-03", "2024-03-02", "2024-03-01"} {
		if files[i].DateString() != want {
			t.Fatalf("files[%d] = %s, want %s", i, files[i].DateString(), want)
		}
	}
}

func TestCatalogHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cat := NewCatalog(CatalogOptions{URL: srv.URL}, NewClient(ClientOptions{}), noopLogger())
	_, err := cat.ListFiles(context.Background())

	var catErr *CatalogError
	if !errors.As(err, &catErr) {
		t.Fatalf("expected CatalogError, got %v", err)
	}
	if catErr.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", catErr.StatusCode)
	}
}

func TestCatalogMalformedListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<EnumerationResults><Blobs><Blob>")
	}))
	defer srv.Close()

	cat := NewCatalog(CatalogOptions{URL: srv.URL}, NewClient(ClientOptions{}), noopLogger())
	_, err := cat.ListFiles(context.Background())

	var catErr *CatalogError
	if !errors.As(err, &catErr) {
		t.Fatalf("malformed XML should be a CatalogError, got %v", err)
	}
}

func TestCatalogDuplicateDatesKeepLatest(t *testing.T) {
	body := `<EnumerationResults><Blobs>
<Blob><Name>a/2024/20240301_Offers.csv</Name><Properties><Last-Modified>Sat, 02 Mar 2024 03:10:00 GMT</Last-Modified></Properties></Blob>
<Blob><Name>b/2024/20240301_Offers.csv</Name><Properties><Last-Modified>Sat, 02 Mar 2024 05:10:00 GMT</Last-Modified></Properties></Blob>
</Blobs></EnumerationResults>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	cat := NewCatalog(CatalogOptions{URL: srv.URL}, NewClient(ClientOptions{}), noopLogger())
	files, err := cat.ListFiles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != "b/2024/20240301_Offers.csv" {
		t.Fatalf("expected the later revision to win, got %+v", files)
	}
}

func TestParseLastModified(t *testing.T) {
	got, err := ParseLastModified("Fri, 01 Mar 2024 23:59:59 GMT")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("unexpected %s", got)
	}
	if _, err := ParseLastModified("2024-03-01"); err == nil {
		t.Fatal("non RFC1123 timestamps must fail")
	}
}
