package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	builtindocs "github.com/aidanlsb/bql/docs"
	"github.com/aidanlsb/bql/internal/ui"
)

var (
	docsFS             fs.FS = builtindocs.FS
	docsDisplayContext       = ui.NewDisplayContext
	docsMarkdownRender       = ui.RenderMarkdown
	docsWidth          int
)

type docsTopicView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

var docsCmd = &cobra.Command{
	Use:   "docs [topic]",
	Short: "Read the bundled language and library guides",
	Long: `Prints long-form documentation bundled into the bql binary. Without a
topic, lists the topics.

Examples:
  bql docs
  bql docs language`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, err := listDocsTopics()
		if err != nil {
			return handleError(ErrInternal, err, "Rebuild bql so bundled docs are available")
		}

		if len(args) == 0 {
			if isJSONOutput() {
				outputSuccess(map[string]interface{}{"topics": topics}, &Meta{Count: len(topics)})
				return nil
			}
			t := ui.NewTable(2)
			for _, topic := range topics {
				t.AddRow(ui.Name(topic.ID), topic.Title)
			}
			fmt.Print(t.String())
			return nil
		}

		id := strings.TrimSuffix(strings.ToLower(args[0]), ".md")
		content, err := fs.ReadFile(docsFS, id+".md")
		if err != nil {
			ids := make([]string, len(topics))
			for i, topic := range topics {
				ids[i] = topic.ID
			}
			return handleErrorMsg(ErrInvalidInput, fmt.Sprintf("unknown docs topic %q", args[0]),
				"Available topics: "+strings.Join(ids, ", "))
		}

		if isJSONOutput() {
			outputSuccess(map[string]interface{}{
				"id":      id,
				"title":   docsTitle(content, id),
				"content": string(content),
			}, nil)
			return nil
		}

		display := docsDisplayContext(os.Stdout)
		if docsWidth > 0 {
			display = ui.NewDisplayContextWithWidth(docsWidth)
		} else if !display.IsTTY {
			fmt.Print(string(content))
			return nil
		}
		rendered, err := docsMarkdownRender(string(content), display.MarkdownWidth())
		if err != nil {
			fmt.Print(string(content))
			return nil
		}
		fmt.Print(rendered)
		return nil
	},
}

func listDocsTopics() ([]docsTopicView, error) {
	entries, err := fs.ReadDir(docsFS, ".")
	if err != nil {
		return nil, err
	}
	var topics []docsTopicView
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".md" {
			continue
		}
		content, err := fs.ReadFile(docsFS, e.Name())
		if err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(e.Name(), ".md")
		topics = append(topics, docsTopicView{ID: id, Title: docsTitle(content, id)})
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })
	return topics, nil
}

// docsTitle returns the text of the first level-one heading, or fallback.
// Headings inside code blocks do not count.
func docsTitle(content []byte, fallback string) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(content))

	title := ""
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		heading, ok := n.(*ast.Heading)
		if !entering || !ok || heading.Level != 1 {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		for child := heading.FirstChild(); child != nil; child = child.NextSibling() {
			if t, ok := child.(*ast.Text); ok {
				b.Write(t.Segment.Value(content))
			}
		}
		title = strings.TrimSpace(b.String())
		if title == "" {
			return ast.WalkContinue, nil
		}
		return ast.WalkStop, nil
	})
	if title == "" {
		return fallback
	}
	return title
}

func init() {
	docsCmd.Flags().IntVar(&docsWidth, "width", 0, "Render markdown at this width even when not writing to a terminal")
	rootCmd.AddCommand(docsCmd)
}
