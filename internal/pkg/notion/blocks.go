package notion

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Block is one node of a page's block tree with its text already extracted.
type Block struct {
	ID          string
	Type        string
	Content     string
	HasChildren bool
	Children    []*Block
}

// blockFromJSON builds a Block from one result of a block children call.
func blockFromJSON(raw gjson.Result) *Block {
	blockType := raw.Get("type").String()
	return &Block{
		ID:          raw.Get("id").String(),
		Type:        blockType,
		Content:     extractBlockText(raw, blockType),
		HasChildren: raw.Get("has_children").Bool(),
	}
}

// extractBlockText pulls the plain text out of a block's type-specific
// payload: rich_text runs first, then caption (images/videos), then name.
func extractBlockText(raw gjson.Result, blockType string) string {
	payload := raw.Get(blockType)
	if !payload.Exists() {
		return ""
	}
	for _, field := range []string{"rich_text", "caption", "name"} {
		runs := payload.Get(field)
		if runs.IsArray() {
			var sb strings.Builder
			for _, run := range runs.Array() {
				sb.WriteString(run.Get("plain_text").String())
			}
			return sb.String()
		}
	}
	return ""
}

// RenderBlocks flattens a block tree into a markdown-like text rendering.
// Each block is separated by a blank line; nesting is indented two spaces
// per depth level. Blocks with no extractable text produce no line but their
// children are still rendered.
func RenderBlocks(blocks []*Block) string {
	return renderLevel(blocks, 0)
}

func renderLevel(blocks []*Block, indent int) string {
	var lines []string
	prefix := strings.Repeat("  ", indent)

	for _, block := range blocks {
		if block.Content != "" {
			switch block.Type {
			case "heading_1":
				lines = append(lines, prefix+"# "+block.Content)
			case "heading_2":
				lines = append(lines, prefix+"## "+block.Content)
			case "heading_3":
				lines = append(lines, prefix+"### "+block.Content)
			case "bulleted_list_item":
				lines = append(lines, prefix+"- "+block.Content)
			case "numbered_list_item":
				lines = append(lines, prefix+"1. "+block.Content)
			case "to_do":
				lines = append(lines, prefix+"- [ ] "+block.Content)
			case "toggle", "quote", "callout":
				lines = append(lines, prefix+"> "+block.Content)
			default:
				lines = append(lines, prefix+block.Content)
			}
		}

		if len(block.Children) > 0 {
			if childText := renderLevel(block.Children, indent+1); childText != "" {
				lines = append(lines, childText)
			}
		}

		// Blank line between blocks.
		lines = append(lines, "")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
