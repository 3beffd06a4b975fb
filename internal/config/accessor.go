package config

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// Paths address config keys by their JSON names joined with dots, such as
// "realtime.reconnectDelayMs". Sections are structs; keys are their scalar fields.

// GetByPath returns the value at path. A section path returns the whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(cfg, path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath parses value into the type of the key at path and stores it.
// Unknown keys and values of the wrong type are errors.
func SetByPath(cfg *Config, path, value string) error {
	v, err := lookup(cfg, path)
	if err != nil {
		return err
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", path, value)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || v.OverflowInt(n) {
			return fmt.Errorf("%s expects an integer, got %q", path, value)
		}
		v.SetInt(n)
	case reflect.Struct:
		return fmt.Errorf("%s is a section; set one of its keys", path)
	default:
		return fmt.Errorf("%s has unsupported type %s", path, v.Type())
	}
	return nil
}

func lookup(cfg *Config, path string) (reflect.Value, error) {
	if path == "" {
		return reflect.Value{}, fmt.Errorf("empty path")
	}
	v := reflect.ValueOf(cfg).Elem()
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("key not found: %s", path)
		}
		next, ok := fieldByKey(v, key)
		if !ok {
			return reflect.Value{}, fmt.Errorf("key not found: %s", path)
		}
		v = next
	}
	return v, nil
}

func fieldByKey(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if keyName(t.Field(i)) == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func keyName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	if c.Store.RedisURL != "" {
		c.Store.RedisURL = maskURLPassword(c.Store.RedisURL)
	}
	c.Realtime.URL = stripTokenParam(c.Realtime.URL)
	return &c
}

// maskURLPassword hides the password part of a URL's userinfo.
func maskURLPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return maskString(raw)
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// stripTokenParam masks a token query parameter pasted into the socket URL.
func stripTokenParam(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if tok := q.Get("token"); tok != "" {
		q.Set("token", maskString(tok))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every key with its current value, including empty ones.
func ListPaths(cfg *Config) map[string]any {
	out := make(map[string]any)
	collectKeys("", reflect.ValueOf(cfg).Elem(), out)
	return out
}

func collectKeys(prefix string, v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		path := keyName(t.Field(i))
		if prefix != "" {
			path = prefix + "." + path
		}
		if f := v.Field(i); f.Kind() == reflect.Struct {
			collectKeys(path, f, out)
		} else {
			out[path] = f.Interface()
		}
	}
}
