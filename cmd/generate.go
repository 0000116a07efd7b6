package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/generate"
	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"github.com/kayz/tavernkit/internal/session"
	"github.com/spf13/cobra"
)

// supportedAPIs are the backend families a profile may target.
var supportedAPIs = map[string]string{
	promptbuild.APIChatCompletion: "Chat Completion",
	promptbuild.APITextCompletion: "Text Completion",
}

func newGenerateCommand() *cobra.Command {
	var (
		requestPath string
		profileID   string
		stream      bool
		maxTokens   int
		saveChat    bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Assemble a prompt and send it through a connection profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestPath == "" {
				return fmt.Errorf("--request is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			req, _, err := session.LoadRequest(requestPath)
			if err != nil {
				return err
			}
			if profileID == "" {
				profileID = req.Profile
			}
			if profileID == "" {
				return fmt.Errorf("--profile is required when the request names none")
			}
			if cmd.Flags().Changed("stream") {
				req.Stream = stream
			}
			if maxTokens > 0 {
				req.MaxTokens = maxTokens
			}

			registry := generate.NewRegistry(cfg)
			_, profile, err := registry.Resolve(profileID)
			if err != nil {
				return err
			}
			if profile.API != "" && !generate.IsProfileSupported(&profile, supportedAPIs, generate.DefaultConnectAPIMap) {
				logger.Warn("Profile %s uses api %q, which is not a known backend", profile.Name, profile.API)
			}

			req.Options = profile.BuildOptions(req.Options)
			api := profile.PromptAPI()
			res, err := buildPrompt(cmd.Context(), cfg, req, api)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			gen := generate.NewGenerator(registry)
			var reply string
			opts := generate.Options{
				OnStart: func(id string) { logger.Debug("Generation %s started with profile %s", id, profile.ID) },
				OnEntry: func(c generate.Chunk) {
					if req.Stream {
						fmt.Fprint(out, c.Delta)
					}
				},
				OnFinish: func(c *generate.Chunk, err error) {
					if c != nil {
						reply = c.Content
					}
				},
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-sigCh:
					for _, id := range gen.ActiveRequests() {
						if err := gen.Abort(id); err != nil {
							logger.Warn("Abort %s: %v", id, err)
						}
					}
				case <-done:
				}
			}()

			_, err = gen.Generate(cmd.Context(), generate.Request{
				ProfileID: profileID,
				Prompt:    generate.PromptForAPI(api, res.Messages),
				MaxTokens: req.MaxTokens,
				Stream:    req.Stream,
			}, opts)
			if err != nil {
				return err
			}
			if req.Stream {
				fmt.Fprintln(out)
			} else {
				fmt.Fprintln(out, reply)
			}

			if saveChat && req.ChatID != "" && reply != "" {
				return saveReply(cfg, req, reply)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestPath, "request", "", "Path to JSON or YAML request file")
	cmd.Flags().StringVar(&profileID, "profile", "", "Connection profile id or name (default: from request)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the reply as it is generated")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum reply tokens (default: from request, else 4096)")
	cmd.Flags().BoolVar(&saveChat, "save", false, "Append the reply to the request's stored chat")
	return cmd
}

// saveReply appends the reply to the stored chat as the character's message.
func saveReply(cfg *config.Config, req *session.Request, reply string) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	name := "Assistant"
	if req.ActiveCharacter != nil && *req.ActiveCharacter >= 0 && *req.ActiveCharacter < len(req.Characters) {
		name = req.Characters[*req.ActiveCharacter].Name
	}
	if _, err := store.GetOrCreateChat(req.ChatID, name); err != nil {
		return err
	}
	rec, err := promptbuild.NewChatRecord(promptbuild.ChatMessage{Name: name, Mes: reply})
	if err != nil {
		return err
	}
	if _, err := store.AddChatMessage(req.ChatID, rec); err != nil {
		return err
	}
	logger.Info("Saved reply to chat %s", req.ChatID)
	return nil
}

func init() {
	rootCmd.AddCommand(newGenerateCommand())
}
