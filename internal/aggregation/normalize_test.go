package aggregation

import "testing"

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"/users/123":                                  "/users/{id}",
		"/orders/550e8400-e29b-41d4-a716-446655440000": "/orders/{uuid}",
		"/docs/5f8d0d55b54764421b7156c3":                "/docs/{objectId}",
		"/assets/logo.png":                              "/assets/{file}",
		"/files/d41d8cd98f00b204e9800998ecf8427e":        "/files/{hash}",
		"/v1/items?sort=asc":                            "/v1/items",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}
