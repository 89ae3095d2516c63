package expreval

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	mrand "math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/user/bungee-go/internal/jsonutil"
	"github.com/user/bungee-go/internal/models"
)

func jsonMarshal(v any) ([]byte, error) { return jsonutil.Marshal(v) }

func mathRandom() float64 { return mrand.Float64() }

// NewEnv builds the evaluation environment for one RequestContext: the
// variable table (headers/body/url/method/env/stream) plus the fixed
// helper library from spec.md §4.1.
func NewEnv(ctx *models.RequestContext) *Env {
	vars := map[string]any{
		"headers": stringMapToAny(ctx.Headers),
		"body":    mapToAny(ctx.Body),
		"url": map[string]any{
			"pathname": ctx.URL.Pathname,
			"search":   ctx.URL.Search,
			"host":     ctx.URL.Host,
			"protocol": ctx.URL.Protocol,
		},
		"method": ctx.Method,
		"env":    stringMapToAny(ctx.Env),
	}
	if ctx.Stream != nil {
		vars["stream"] = map[string]any{
			"phase":      string(ctx.Stream.Phase),
			"chunkIndex": float64(ctx.Stream.ChunkIndex),
		}
	}

	return &Env{Vars: vars, Helpers: helperLibrary()}
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mapToAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func helperLibrary() map[string]HelperFunc {
	return map[string]HelperFunc{
		"uuid":         func([]any) (any, error) { return uuid.NewString(), nil },
		"randomInt":    helperRandomInt,
		"md5":          helperMD5,
		"sha256":       helperSHA256,
		"encrypt":      helperEncrypt,
		"base64encode": func(a []any) (any, error) { return base64.StdEncoding.EncodeToString([]byte(argString(a, 0))), nil },
		"base64decode": helperBase64Decode,
		"toLowerCase":  func(a []any) (any, error) { return strings.ToLower(argString(a, 0)), nil },
		"toUpperCase":  func(a []any) (any, error) { return strings.ToUpper(argString(a, 0)), nil },
		"trim":         func(a []any) (any, error) { return strings.TrimSpace(argString(a, 0)), nil },
		"split":        helperSplit,
		"replace":      helperReplace,
		"jsonParse":    helperJSONParse,
		"jsonStringify": func(a []any) (any, error) {
			b, err := jsonMarshal(arg(a, 0))
			if err != nil {
				return nil, err
			}
			return string(b), nil
		},
		"parseJWT":   helperParseJWT,
		"first":      helperFirst,
		"last":       helperLast,
		"length":     helperLength,
		"keys":       helperKeys,
		"values":     helperValues,
		"parseInt":   helperParseInt,
		"parseFloat": func(a []any) (any, error) { return toNumber(arg(a, 0)), nil },
		"now":        func([]any) (any, error) { return float64(time.Now().UnixMilli()), nil },
		"isString":   func(a []any) (any, error) { _, ok := arg(a, 0).(string); return ok, nil },
		"isNumber":   func(a []any) (any, error) { _, ok := arg(a, 0).(float64); return ok, nil },
		"isArray":    func(a []any) (any, error) { _, ok := arg(a, 0).([]any); return ok, nil },
		"isObject":   helperIsObject,
		"deepClean":  helperDeepCleanCall,
	}
}

func helperRandomInt(a []any) (any, error) {
	min, max := int(toNumber(arg(a, 0))), int(toNumber(arg(a, 1)))
	if max <= min {
		return float64(min), nil
	}
	return float64(min + mrand.Intn(max-min+1)), nil
}

func helperMD5(a []any) (any, error) {
	sum := md5.Sum([]byte(argString(a, 0)))
	return fmt.Sprintf("%x", sum), nil
}

func helperSHA256(a []any) (any, error) {
	sum := sha256.Sum256([]byte(argString(a, 0)))
	return fmt.Sprintf("%x", sum), nil
}

// encryptionKey is a process-lifetime symmetric key. The helper's contract
// (spec.md §4.1) is "encrypt(s, "base64")" with no key material passed in,
// so a fresh random key is generated once per worker process and every
// encrypt call in that process uses it. No decrypt helper is exposed, and
// the key is never persisted, so values encrypted by one worker cannot be
// decrypted after it exits.
var encryptionKey = func() [32]byte {
	var key [32]byte
	_, _ = rand.Read(key[:])
	return key
}()

func helperEncrypt(a []any) (any, error) {
	plaintext := []byte(argString(a, 0))
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &encryptionKey)
	encoding := argString(a, 1)
	if encoding == "" {
		encoding = "base64"
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func helperBase64Decode(a []any) (any, error) {
	decoded, err := base64.StdEncoding.DecodeString(argString(a, 0))
	if err != nil {
		return nil, err
	}
	return string(decoded), nil
}

func helperSplit(a []any) (any, error) {
	parts := strings.Split(argString(a, 0), argString(a, 1))
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func helperReplace(a []any) (any, error) {
	return strings.ReplaceAll(argString(a, 0), argString(a, 1), argString(a, 2)), nil
}

func helperJSONParse(a []any) (any, error) {
	var v any
	if err := jsonutil.Unmarshal([]byte(argString(a, 0)), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// helperParseJWT decodes a JWT's second (payload) segment without
// verifying its signature — this is a context helper for reading claims,
// not an authentication mechanism.
func helperParseJWT(a []any) (any, error) {
	token := argString(a, 0)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("parseJWT: malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("parseJWT: %w", err)
	}
	var claims any
	if err := jsonutil.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("parseJWT: %w", err)
	}
	return claims, nil
}

func helperFirst(a []any) (any, error) {
	arr, ok := arg(a, 0).([]any)
	if !ok || len(arr) == 0 {
		return nil, nil
	}
	return arr[0], nil
}

func helperLast(a []any) (any, error) {
	arr, ok := arg(a, 0).([]any)
	if !ok || len(arr) == 0 {
		return nil, nil
	}
	return arr[len(arr)-1], nil
}

func helperLength(a []any) (any, error) {
	switch v := arg(a, 0).(type) {
	case string:
		return float64(len([]rune(v))), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		return float64(0), nil
	}
}

func helperKeys(a []any) (any, error) {
	obj, ok := arg(a, 0).(map[string]any)
	if !ok {
		return []any{}, nil
	}
	out := make([]any, 0, len(obj))
	for k := range obj {
		out = append(out, k)
	}
	return out, nil
}

func helperValues(a []any) (any, error) {
	obj, ok := arg(a, 0).(map[string]any)
	if !ok {
		return []any{}, nil
	}
	out := make([]any, 0, len(obj))
	for _, v := range obj {
		out = append(out, v)
	}
	return out, nil
}

func helperParseInt(a []any) (any, error) {
	s := strings.TrimSpace(argString(a, 0))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return toNumber(s), nil
	}
	return float64(n), nil
}

func helperIsObject(a []any) (any, error) {
	_, ok := arg(a, 0).(map[string]any)
	return ok, nil
}

func helperDeepCleanCall(a []any) (any, error) {
	obj := arg(a, 0)
	dropArr, _ := arg(a, 1).([]any)
	drop := make(map[string]bool, len(dropArr))
	for _, d := range dropArr {
		drop[stringify(d)] = true
	}
	return deepCleanKeys(obj, drop), nil
}

// deepCleanKeys recursively removes the named keys from a JSON-shaped value.
func deepCleanKeys(v any, drop map[string]bool) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any)
		for k, val := range x {
			if drop[k] {
				continue
			}
			out[k] = deepCleanKeys(val, drop)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = deepCleanKeys(val, drop)
		}
		return out
	default:
		return v
	}
}
