package patch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleTag struct {
	Label string `json:"label"`
	Score int    `json:"score"`
}

type sampleEntity struct {
	ID    string      `json:"id"`
	Title string      `json:"title"`
	Count int         `json:"count"`
	Tags  []sampleTag `json:"tags,omitempty"`
	Notes *string     `json:"notes,omitempty"`
}

func newSample() sampleEntity {
	return sampleEntity{
		ID:    "s-1",
		Title: "Alien",
		Count: 3,
		Tags:  []sampleTag{{Label: "horror", Score: 7}, {Label: "space", Score: 9}},
	}
}

func TestApplyReplacesScalar(t *testing.T) {
	original := newSample()

	patched, err := Apply(original, []Operation{Replace("/title", "Aliens")})
	require.NoError(t, err)
	require.Equal(t, "Aliens", patched.Title)
	require.Equal(t, "Alien", original.Title)
}

func TestApplyAppendsWithDashIndex(t *testing.T) {
	patched, err := Apply(newSample(), []Operation{Add("/tags/-", sampleTag{Label: "classic", Score: 10})})
	require.NoError(t, err)
	require.Len(t, patched.Tags, 3)
	require.Equal(t, "classic", patched.Tags[2].Label)
}

func TestApplyInsertsAtIndex(t *testing.T) {
	patched, err := Apply(newSample(), []Operation{Add("/tags/0", sampleTag{Label: "first", Score: 1})})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "horror", "space"}, tagLabels(patched.Tags))
}

func TestApplyRemovesArrayElementWithoutTouchingInput(t *testing.T) {
	original := newSample()

	patched, err := Apply(original, []Operation{Remove("/tags/0")})
	require.NoError(t, err)
	require.Equal(t, []string{"space"}, tagLabels(patched.Tags))
	require.Equal(t, []string{"horror", "space"}, tagLabels(original.Tags))
}

func TestApplyMoveAndCopy(t *testing.T) {
	patched, err := Apply(newSample(), []Operation{
		Copy("/tags/1", "/tags/-"),
		Replace("/tags/2/label", "copied"),
		Move("/tags/0", "/tags/-"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"space", "copied", "horror"}, tagLabels(patched.Tags))
}

func TestApplyTestOperationComparesNumbersByValue(t *testing.T) {
	operations := []Operation{
		{Op: OperationTest, Path: "/count", Value: []byte("3.0")},
		Replace("/count", 4),
	}

	patched, err := Apply(newSample(), operations)
	require.NoError(t, err)
	require.Equal(t, 4, patched.Count)
}

func TestApplyFailedTestLeavesEntityUnchanged(t *testing.T) {
	original := newSample()

	_, err := Apply(original, []Operation{
		Replace("/title", "Changed"),
		Test("/count", 99),
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStructural))
	require.True(t, errors.Is(err, ErrTestFailed))

	var patchErr *Error
	require.True(t, errors.As(err, &patchErr))
	require.Equal(t, 1, patchErr.Index)
	require.Equal(t, OperationTest, patchErr.Op)
	require.Equal(t, "Alien", original.Title)
}

func TestApplyRejectsStructuralFailures(t *testing.T) {
	testCases := []struct {
		name      string
		operation Operation
		reason    error
	}{
		{name: "unknown op", operation: Operation{Op: "merge", Path: "/title", Value: []byte(`"x"`)}, reason: ErrUnknownOperation},
		{name: "missing path", operation: Replace("/missing", "x"), reason: ErrPathNotFound},
		{name: "index out of range", operation: Replace("/tags/5/label", "x"), reason: ErrPathNotFound},
		{name: "bad pointer", operation: Replace("title", "x"), reason: ErrInvalidPointer},
		{name: "missing value", operation: Operation{Op: OperationReplace, Path: "/title"}, reason: ErrMissingValue},
		{name: "descend into scalar", operation: Replace("/title/first", "x"), reason: ErrTypeMismatch},
		{name: "remove missing", operation: Remove("/notes"), reason: ErrPathNotFound},
		{name: "move into child", operation: Move("/tags", "/tags/0/label"), reason: ErrInvalidPointer},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Apply(newSample(), []Operation{testCase.operation})
			require.Error(t, err)
			require.ErrorIs(t, err, ErrStructural)
			require.ErrorIs(t, err, testCase.reason)
		})
	}
}

func TestApplyRejectsResultThatDoesNotFitEntity(t *testing.T) {
	testCases := []struct {
		name      string
		operation Operation
	}{
		{name: "wrong scalar type", operation: Replace("/count", "three")},
		{name: "unknown field", operation: Add("/rating", 5)},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Apply(newSample(), []Operation{testCase.operation})
			require.ErrorIs(t, err, ErrStructural)

			var patchErr *Error
			require.ErrorAs(t, err, &patchErr)
			require.Equal(t, -1, patchErr.Index)
		})
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	operations := []Operation{
		Replace("/title", "Alien 3"),
		Add("/notes", "director's cut"),
		Remove("/tags/1"),
	}

	first, err := Apply(newSample(), operations)
	require.NoError(t, err)
	second, err := Apply(newSample(), operations)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestApplyEmptySequenceReturnsEqualCopy(t *testing.T) {
	original := newSample()

	patched, err := Apply(original, nil)
	require.NoError(t, err)
	require.Equal(t, original, patched)

	patched.Tags[0].Label = "mutated"
	require.Equal(t, "horror", original.Tags[0].Label)
}

func TestParsePointerUnescapesTokens(t *testing.T) {
	tokens, err := parsePointer("/a~1b/c~0d/~01")
	require.NoError(t, err)
	require.Equal(t, []string{"a/b", "c~d", "~1"}, tokens)
}

func tagLabels(tags []sampleTag) []string {
	labels := make([]string, 0, len(tags))
	for _, tag := range tags {
		labels = append(labels, tag.Label)
	}
	return labels
}
