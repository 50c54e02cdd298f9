// Package cloud defines the provider adapter contract (spec component E),
// the item model (component F), and the types the registry/facade and
// request engine compose against. Adapters under provider/* implement
// Adapter; everything else in cloudkit is generic over it.
package cloud

import (
	"context"
	"net/http"
)

// Op identifies one operation of the adapter contract.
type Op int

const (
	OpExchangeCode Op = iota
	OpRefreshToken
	OpGetItemData
	OpListDirectory
	OpGetItemURL
	OpDownloadFile
	OpUploadFile
	OpDeleteItem
	OpCreateDirectory
	OpMoveItem
	OpRenameItem
	OpGetThumbnail
	OpGeneralData
	numOps
)

func (o Op) String() string {
	names := [...]string{
		"ExchangeCode", "RefreshToken", "GetItemData", "ListDirectory",
		"GetItemURL", "DownloadFile", "UploadFile", "DeleteItem",
		"CreateDirectory", "MoveItem", "RenameItem", "GetThumbnail", "GeneralData",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "Unknown"
}

// OpSet is a bitset of supported operations, returned by
// Adapter.SupportedOperations.
type OpSet uint32

// NewOpSet builds an OpSet from the given operations.
func NewOpSet(ops ...Op) OpSet {
	var s OpSet
	for _, op := range ops {
		s |= 1 << uint(op)
	}
	return s
}

// Has reports whether op is present in the set.
func (s OpSet) Has(op Op) bool { return s&(1<<uint(op)) != 0 }

// ByteRange is an inclusive byte range for a ranged download. End == -1
// means "to the end of the file".
type ByteRange struct {
	Start int64
	End   int64 // -1 for open-ended
}

// GeneralInfo is the result of the general_data operation.
type GeneralInfo struct {
	Username   string
	QuotaUsed  int64
	QuotaTotal int64 // 0 means unknown/unlimited
}

// ProgressFunc is invoked with (total, current) bytes for upload/download
// phases. (0, 0) signals an unknown total.
type ProgressFunc func(total, current int64)

// ErrNotSupported is returned by a Build* method (or surfaced via
// cloud.Error{Code: CodeFailure}) when an adapter's builder declines to
// build a request for an operation it does not implement.
var ErrNotSupported = NewError(CodeFailure, "operation not supported", nil)

// Adapter is the per-service shaping contract (spec component E). Every
// operation is a builder+parser pair: the builder returns ErrNotSupported
// when the operation isn't implemented by this adapter, and that absence must
// also be reflected in SupportedOperations. The request engine fails an
// operation whose builder returns a nil request with ErrNotSupported as
// well; the one exception is an OpaqueSource's BuildGetItemURL, which
// registry.Facade answers from ParseGetItemURL alone. The request engine
// (internal/request) owns sending the built *http.Request through the HTTP
// engine, auth injection, and 401 retry; adapters never perform I/O
// themselves except for opaque (OpaqueSource) providers.
type Adapter interface {
	Name() string
	Endpoint() string
	RootDirectory() *Item
	Hints() map[string]string
	AuthorizeLibraryURL() string
	SupportedOperations() OpSet

	// AuthorizeRequest injects the access token into a request the engine
	// is about to send (4.E's "authorize_request" hook).
	AuthorizeRequest(req *http.Request, accessToken string)

	// codeVerifier is the PKCE verifier generated for the authorization
	// attempt that produced code; adapters that don't use PKCE ignore it.
	BuildExchangeCode(ctx context.Context, code, codeVerifier string) (*http.Request, error)
	ParseExchangeCode(resp *http.Response) (*Token, error)

	BuildRefreshToken(ctx context.Context, refreshToken string) (*http.Request, error)
	ParseRefreshToken(resp *http.Response) (*Token, error)

	BuildGetItemData(ctx context.Context, id string) (*http.Request, error)
	ParseGetItemData(resp *http.Response) (*Item, error)

	BuildListDirectory(ctx context.Context, item *Item, pageToken string) (*http.Request, error)
	ParseListDirectory(resp *http.Response) (*PageData, error)

	BuildGetItemURL(ctx context.Context, item *Item) (*http.Request, error)
	ParseGetItemURL(resp *http.Response, item *Item) (string, error)

	BuildDownloadFile(ctx context.Context, item *Item, rng *ByteRange) (*http.Request, error)

	BuildUploadFile(ctx context.Context, parent *Item, filename string, size int64, body Reader) (*http.Request, error)
	ParseUploadFile(resp *http.Response) (*Item, error)

	BuildDeleteItem(ctx context.Context, item *Item) (*http.Request, error)
	ParseDeleteItem(resp *http.Response) error

	BuildCreateDirectory(ctx context.Context, parent *Item, name string) (*http.Request, error)
	ParseCreateDirectory(resp *http.Response) (*Item, error)

	BuildMoveItem(ctx context.Context, item, destination *Item) (*http.Request, error)
	ParseMoveItem(resp *http.Response) (*Item, error)

	BuildRenameItem(ctx context.Context, item *Item, newName string) (*http.Request, error)
	ParseRenameItem(resp *http.Response) (*Item, error)

	BuildGetThumbnail(ctx context.Context, item *Item) (*http.Request, error)

	BuildGeneralData(ctx context.Context) (*http.Request, error)
	ParseGeneralData(resp *http.Response) (*GeneralInfo, error)
}

// Reader is the subset of io.Reader upload bodies need; aliased here so
// callers importing "cloud" don't also need to import "io" for the common
// case.
type Reader interface {
	Read(p []byte) (n int, err error)
}

// OpaqueSource is implemented by adapters for providers that never expose a
// directly fetchable URL (spec's "opaque providers" pattern, e.g. Mega).
// The streaming proxy (internal/proxy) calls this directly instead of
// routing through the generic HTTP builder/parser pipeline.
type OpaqueSource interface {
	// OpenRange opens a byte-range read of item's content. size is the
	// item's total size if known, 0 otherwise. The returned ReadCloser is
	// cancelled by closing it.
	OpenRange(ctx context.Context, item *Item, rng *ByteRange) (ReadCloser, int64, error)
}

// ReadCloser mirrors io.ReadCloser; aliased for the same reason as Reader.
type ReadCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// CredentialAuthorizer is implemented by credential-string adapters (4.E's
// "Credential-string providers" pattern): instead of an OAuth2 redirect,
// the loopback server's /login page posts a username+password directly to
// this method, which synthesizes the "code" the auth state machine then
// exchanges normally.
type CredentialAuthorizer interface {
	SynthesizeCode(username, password string) string
}
