package storage

import (
	"testing"

	"photovault/pkg/domain"
)

func TestPhotoKey(t *testing.T) {
	cases := []struct {
		photo domain.Photo
		want  string
	}{
		{domain.Photo{ID: "p1", UserID: "u1", Name: "sunset.jpg"}, "photos/u1/p1/sunset.jpg"},
		{domain.Photo{ID: "p2", UserID: "u1", Name: "my holiday (1).jpg"}, "photos/u1/p2/my_holiday_1_.jpg"},
		{domain.Photo{ID: "p3", UserID: "", Name: ""}, "photos/unknown/p3/photo"},
		{domain.Photo{ID: "p4", UserID: "u1", Name: "../../etc/passwd"}, "photos/u1/p4/passwd"},
		{domain.Photo{ID: "..", UserID: "u1", Name: "a.jpg"}, "photos/u1/unknown/a.jpg"},
		{domain.Photo{ID: "../u2/p9", UserID: "u1", Name: "a.jpg"}, "photos/u1/.._u2_p9/a.jpg"},
		{domain.Photo{ID: "p5", UserID: "../admin", Name: ".."}, "photos/.._admin/p5/photo"},
	}
	for _, tc := range cases {
		if got := PhotoKey(tc.photo); got != tc.want {
			t.Fatalf("PhotoKey(%+v) = %q, want %q", tc.photo, got, tc.want)
		}
	}
}
