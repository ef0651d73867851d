package kdb

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
)

var parserPool fastjson.ParserPool

const designPrefix = "_design/"

// Document is one stored revision. Data is the JSON body without the
// _id, _rev and _deleted members.
type Document struct {
	ID      string
	Version int
	Hash    string
	Deleted bool
	Data    []byte
}

// Rev formats the revision as "<version>-<hash>".
func (doc *Document) Rev() string {
	if doc.Version == 0 {
		return ""
	}
	return formatRev(doc.Version, doc.Hash)
}

// IsDesign reports whether the document is a design document.
func (doc *Document) IsDesign() bool {
	return strings.HasPrefix(doc.ID, designPrefix)
}

// CalculateNextVersion bumps the version and derives the new hash from the
// previous revision and the body.
func (doc *Document) CalculateNextVersion() {
	doc.Version = doc.Version + 1
	h := md5.New()
	h.Write([]byte(doc.Hash))
	h.Write(doc.Data)
	if doc.Deleted {
		h.Write([]byte("deleted"))
	}
	doc.Hash = fmt.Sprintf("%x", h.Sum(nil))
}

// JSON returns the body with _id and _rev prepended.
func (doc *Document) JSON() []byte {
	meta := fmt.Sprintf(`{"_id":%s,"_rev":"%s"`, jsonString(doc.ID), doc.Rev())
	if len(doc.Data) > 2 {
		meta += ","
	}
	data := make([]byte, len(meta))
	copy(data, meta)
	if len(doc.Data) > 0 {
		data = append(data, doc.Data[1:]...)
	} else {
		data = append(data, '}')
	}
	return data
}

// ParseDocument decodes a request body. The reserved members are lifted
// onto the Document; any other member starting with an underscore is
// rejected.
func ParseDocument(value []byte) (*Document, error) {
	parser := parserPool.Get()
	defer parserPool.Put(parser)

	v, err := parser.ParseBytes(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MessageBadJSON, ErrBadJSON)
	}

	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", "Document must be a JSON object", ErrBadJSON)
	}

	doc := &Document{}
	var invalid error
	obj.Visit(func(key []byte, value *fastjson.Value) {
		if invalid != nil {
			return
		}
		switch string(key) {
		case "_id":
			sb, err := value.StringBytes()
			if err != nil {
				invalid = fmt.Errorf("%s: %w", "Document id must be a string", ErrDocumentInvalidID)
				return
			}
			doc.ID = string(sb)
		case "_rev":
			version, hash, err := parseRev(string(value.GetStringBytes()))
			if err != nil {
				invalid = err
				return
			}
			doc.Version = version
			doc.Hash = hash
		case "_deleted":
			doc.Deleted = value.GetBool()
		default:
			if key[0] == '_' {
				invalid = fmt.Errorf("Bad special document member: %s: %w", key, ErrDocumentInvalidInput)
			}
		}
	})
	if invalid != nil {
		return nil, invalid
	}

	obj.Del("_id")
	obj.Del("_rev")
	obj.Del("_deleted")
	doc.Data = v.MarshalTo(nil)

	return doc, nil
}

func parseRev(rev string) (int, string, error) {
	if rev == "" {
		return 0, "", nil
	}
	fields := strings.SplitN(rev, "-", 2)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("%s: %w", "Invalid rev format", ErrBadRequest)
	}
	version, err := strconv.Atoi(fields[0])
	if err != nil || version < 1 {
		return 0, "", fmt.Errorf("%s: %w", "Invalid rev format", ErrBadRequest)
	}
	return version, fields[1], nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
