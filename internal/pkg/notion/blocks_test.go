package notion

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBlockFromJSON(t *testing.T) {
	raw := gjson.Parse(`{
		"id": "b1",
		"type": "paragraph",
		"has_children": true,
		"paragraph": {"rich_text": [{"plain_text": "Hello "}, {"plain_text": "world"}]}
	}`)

	block := blockFromJSON(raw)
	require.Equal(t, "b1", block.ID)
	require.Equal(t, "paragraph", block.Type)
	require.Equal(t, "Hello world", block.Content)
	require.True(t, block.HasChildren)
}

func TestExtractBlockText(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{
			name: "rich text runs joined",
			json: `{"type":"heading_1","heading_1":{"rich_text":[{"plain_text":"A"},{"plain_text":"B"}]}}`,
			want: "AB",
		},
		{
			name: "image caption",
			json: `{"type":"image","image":{"caption":[{"plain_text":"diagram"}]}}`,
			want: "diagram",
		},
		{
			name: "name field",
			json: `{"type":"child_page","child_page":{"name":[{"plain_text":"Sub page"}]}}`,
			want: "Sub page",
		},
		{
			name: "no payload for type",
			json: `{"type":"divider"}`,
			want: "",
		},
		{
			name: "payload without text fields",
			json: `{"type":"divider","divider":{}}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := gjson.Parse(tt.json)
			require.Equal(t, tt.want, extractBlockText(raw, raw.Get("type").String()))
		})
	}
}

func TestRenderBlocks(t *testing.T) {
	blocks := []*Block{
		{Type: "heading_1", Content: "Title"},
		{Type: "paragraph", Content: "Intro text"},
		{
			Type: "bulleted_list_item", Content: "Parent item", HasChildren: true,
			Children: []*Block{
				{Type: "bulleted_list_item", Content: "Nested item"},
				{Type: "to_do", Content: "Task"},
			},
		},
		{Type: "quote", Content: "Quoted"},
		{Type: "toggle", Content: "Details"},
		{Type: "callout", Content: "Note"},
		{Type: "numbered_list_item", Content: "First"},
		{Type: "code", Content: "x := 1"},
	}

	got := RenderBlocks(blocks)
	want := "# Title\n" +
		"\n" +
		"Intro text\n" +
		"\n" +
		"- Parent item\n" +
		"  - Nested item\n" +
		"\n" +
		"  - [ ] Task\n" +
		"\n" +
		"> Quoted\n" +
		"\n" +
		"> Details\n" +
		"\n" +
		"> Note\n" +
		"\n" +
		"1. First\n" +
		"\n" +
		"x := 1"
	require.Equal(t, want, got)
}

func TestRenderBlocksEmptyContentStillRendersChildren(t *testing.T) {
	blocks := []*Block{
		{
			Type: "column", HasChildren: true,
			Children: []*Block{{Type: "paragraph", Content: "inside"}},
		},
	}
	require.Equal(t, "  inside", RenderBlocks(blocks))
}

func TestRenderBlocksEmpty(t *testing.T) {
	require.Equal(t, "", RenderBlocks(nil))
}
