package mac

import (
	"errors"
	"reflect"
	"testing"

	"pgregory.net/rapid"
)

func actionsOf(set *ActionSet) [][]int32 {
	out := make([][]int32, set.Len())
	for a := range out {
		out[a] = append([]int32(nil), set.Users(a)...)
	}
	return out
}

func TestEnumerateFourChooseTwo(t *testing.T) {
	set, err := Enumerate(4, 2)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	want := [][]int32{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}
	if got := actionsOf(set); !reflect.DeepEqual(got, want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	if set.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", set.Len())
	}
}

func TestEnumerateZeroStreamsYieldsEmptyAction(t *testing.T) {
	set, err := Enumerate(3, 0)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", set.Len())
	}
	if users := set.Users(0); len(users) != 0 {
		t.Fatalf("Users(0) = %v, want empty", users)
	}
}

func TestEnumerateRejectsMoreStreamsThanUsers(t *testing.T) {
	if _, err := Enumerate(2, 3); !errors.Is(err, ErrConfig) {
		t.Fatalf("Enumerate(2, 3) error = %v, want ErrConfig", err)
	}
	if _, err := Enumerate(-1, 0); !errors.Is(err, ErrConfig) {
		t.Fatalf("Enumerate(-1, 0) error = %v, want ErrConfig", err)
	}
}

func TestBinomial(t *testing.T) {
	cases := []struct{ n, k, want int }{
		{4, 2, 6},
		{5, 0, 1},
		{5, 5, 1},
		{10, 3, 120},
		{16, 8, 12870},
		{60, 30, 118264581564861424},
	}
	for _, tc := range cases {
		got, err := Binomial(tc.n, tc.k)
		if err != nil {
			t.Fatalf("Binomial(%d, %d): %v", tc.n, tc.k, err)
		}
		if got != tc.want {
			t.Fatalf("Binomial(%d, %d) = %d, want %d", tc.n, tc.k, got, tc.want)
		}
	}
}

func TestBinomialOverflow(t *testing.T) {
	if _, err := Binomial(200, 100); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("Binomial(200, 100) error = %v, want ErrResourceExhausted", err)
	}
}

func TestUsersOutOfRangeIsNil(t *testing.T) {
	set, err := Enumerate(4, 2)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if set.Users(-1) != nil || set.Users(6) != nil {
		t.Fatalf("expected nil for unknown action ids")
	}
	if !set.Contains(4, 3) || set.Contains(4, 0) {
		t.Fatalf("Contains mismatch for action 4 = %v", set.Users(4))
	}
}

func TestEnumerateProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 10).Draw(t, "n")
		k := rapid.IntRange(0, n).Draw(t, "k")

		set, err := Enumerate(n, k)
		if err != nil {
			t.Fatalf("Enumerate(%d, %d): %v", n, k, err)
		}
		want, _ := Binomial(n, k)
		if set.Len() != want {
			t.Fatalf("Len() = %d, want C(%d,%d) = %d", set.Len(), n, k, want)
		}

		var prev []int32
		for a := 0; a < set.Len(); a++ {
			users := set.Users(a)
			if len(users) != k {
				t.Fatalf("action %d has %d users, want %d", a, len(users), k)
			}
			for i, u := range users {
				if u < 0 || int(u) >= n {
					t.Fatalf("action %d user %d out of range", a, u)
				}
				if i > 0 && users[i-1] >= u {
					t.Fatalf("action %d not strictly increasing: %v", a, users)
				}
			}
			if prev != nil && !lexLess(prev, users) {
				t.Fatalf("actions %v and %v not in lexicographic order", prev, users)
			}
			prev = users
		}
	})
}

func lexLess(a, b []int32) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func TestForEachCombinationReusesScratch(t *testing.T) {
	var first []int32
	calls := 0
	err := ForEachCombination(5, 3, func(id int, users []int32) {
		if id != calls {
			t.Fatalf("id = %d, want %d", id, calls)
		}
		if first == nil {
			first = users
		} else if &first[0] != &users[0] {
			t.Fatalf("expected the same scratch slice on every call")
		}
		calls++
	})
	if err != nil {
		t.Fatalf("ForEachCombination: %v", err)
	}
	if calls != 10 {
		t.Fatalf("calls = %d, want 10", calls)
	}
}
