package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sightline/pkg/adapter"
	"google.golang.org/genai"
)

func TestGenerateContent(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewGemini(ctx, projectID, "us-central1")
	gt.NoError(t, err)

	contents := []*genai.Content{
		genai.NewContentFromText("Name three well known tent brands.", genai.RoleUser),
	}

	resp, err := client.GenerateContent(ctx, "gemini-2.5-flash", contents, nil)
	gt.NoError(t, err)
	gt.NotEqual(t, resp.Text(), "")

	t.Log("response:", resp.Text())
}
