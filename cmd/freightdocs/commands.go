package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/freightdocs/internal/auth"
	"github.com/kalambet/freightdocs/internal/config"
	"github.com/kalambet/freightdocs/internal/storage"
)

// --- shipment ---

var shipmentCmd = &cobra.Command{
	Use:   "shipment",
	Short: "Create and inspect shipments",
}

var shipmentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a shipment",
	Long: `Create a shipment.

Examples:
  freightdocs shipment create --number SH-2024-001 --origin CNSHA --destination NLRTM
  freightdocs shipment create --number SH-2024-002 --supplier u-42 --hs-code 8471.30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		number, _ := cmd.Flags().GetString("number")
		if number == "" {
			return errors.New("--number is required")
		}
		req := map[string]string{"shipment_number": number}
		for flag, field := range map[string]string{
			"supplier":    "supplier_id",
			"origin":      "origin_port",
			"destination": "destination_port",
			"description": "goods_description",
			"hs-code":     "hs_code",
		} {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				req[field] = v
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		sh, err := createShipment(cmd.Context(), client, req)
		if err != nil {
			return err
		}
		printSuccess("Created shipment %s (%s)", sh.ShipmentNumber, sh.ID)
		return nil
	},
}

var shipmentShowCmd = &cobra.Command{
	Use:   "show <shipment-id>",
	Short: "Show a shipment as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/shipments/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var sh storage.Shipment
		if err := decodeJSON(resp, &sh); err != nil {
			return err
		}
		return printJSON(os.Stdout, sh)
	},
}

func init() {
	shipmentCreateCmd.Flags().String("number", "", "shipment number (unique)")
	shipmentCreateCmd.Flags().String("supplier", "", "supplier user id")
	shipmentCreateCmd.Flags().String("origin", "", "origin port")
	shipmentCreateCmd.Flags().String("destination", "", "destination port")
	shipmentCreateCmd.Flags().String("description", "", "goods description")
	shipmentCreateCmd.Flags().String("hs-code", "", "HS tariff code")
	shipmentCmd.AddCommand(shipmentCreateCmd, shipmentShowCmd)
}

func createShipment(ctx context.Context, c *apiClient, req map[string]string) (storage.Shipment, error) {
	resp, err := c.post(ctx, "/api/shipments", req)
	if err != nil {
		return storage.Shipment{}, err
	}
	var sh storage.Shipment
	if err := decodeJSON(resp, &sh); err != nil {
		return storage.Shipment{}, err
	}
	return sh, nil
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <shipment-id> <file>",
	Short: "Upload a document to a shipment and queue extraction",
	Long: `Upload a document to a shipment and queue extraction.

Examples:
  freightdocs upload 6f1c... ./invoice.pdf
  freightdocs upload 6f1c... ./packing.png --type packing_list --wait`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		docType, _ := cmd.Flags().GetString("type")
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		doc, err := uploadDocument(cmd.Context(), client, args[0], args[1], docType)
		if err != nil {
			return err
		}
		printSuccess("Uploaded %s as %s (document %s)", doc.FileName, doc.Type, doc.ID)

		if !wait {
			return nil
		}
		job, err := waitForJob(cmd.Context(), client, doc.ID, time.Second)
		if err != nil {
			return err
		}
		printJob(os.Stdout, job)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("type", "", "document type (invoice, packing_list, bill_of_lading, ...)")
	uploadCmd.Flags().Bool("wait", false, "wait for extraction to finish")
}

func uploadDocument(ctx context.Context, c *apiClient, shipmentID, path, docType string) (documentView, error) {
	resp, err := c.upload(ctx, url.PathEscape(shipmentID), path, docType)
	if err != nil {
		return documentView{}, err
	}
	var doc documentView
	if err := decodeJSON(resp, &doc); err != nil {
		return documentView{}, err
	}
	return doc, nil
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs <shipment-id>",
	Short: "List the documents on a shipment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/documents/shipments/"+url.PathEscape(args[0])+"/documents")
		if err != nil {
			return err
		}
		var docs []documentView
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, docs)
		}
		if len(docs) == 0 {
			fmt.Println("No documents on this shipment.")
			return nil
		}
		printDocuments(os.Stdout, docs)
		return nil
	},
}

func init() {
	docsCmd.Flags().Bool("json", false, "print full records as JSON")
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job <document-id>",
	Short: "Show the extraction job of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var job jobView
		if wait {
			job, err = waitForJob(cmd.Context(), client, args[0], interval)
		} else {
			job, err = getJob(cmd.Context(), client, args[0])
		}
		if err != nil {
			return err
		}
		printJob(os.Stdout, job)
		return nil
	},
}

func init() {
	jobCmd.Flags().Bool("wait", false, "poll until the job completes or fails")
	jobCmd.Flags().Duration("interval", time.Second, "poll interval with --wait")
}

func getJob(ctx context.Context, c *apiClient, documentID string) (jobView, error) {
	resp, err := c.get(ctx, "/api/documents/"+url.PathEscape(documentID)+"/job")
	if err != nil {
		return jobView{}, err
	}
	var job jobView
	if err := decodeJSON(resp, &job); err != nil {
		return jobView{}, err
	}
	return job, nil
}

// waitForJob polls the job until it reaches completed or failed.
func waitForJob(ctx context.Context, c *apiClient, documentID string, interval time.Duration) (jobView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := getJob(ctx, c, documentID)
		if err != nil {
			return jobView{}, err
		}
		if storage.JobStatus(job.Status).Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(w io.Writer, job jobView) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Job:"), job.ID)
	fmt.Fprintf(w, "  status: %s\n", jobStatusColor(job.Status))
	if job.ModelUsed != "" {
		fmt.Fprintf(w, "  model: %s\n", job.ModelUsed)
	}
	if job.ProcessingTimeMs > 0 {
		fmt.Fprintf(w, "  took: %dms\n", job.ProcessingTimeMs)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "  error: %s\n", job.ErrorMessage)
	}
}

// --- autofill ---

type autofillView struct {
	DocumentID    string         `json:"document_id"`
	ShipmentID    string         `json:"shipment_id"`
	UpdatedFields []string       `json:"updated_fields"`
	Values        map[string]any `json:"extracted_values"`
	Confidence    *float64       `json:"confidence"`
}

var autofillCmd = &cobra.Command{
	Use:   "autofill <document-id>",
	Short: "Copy extracted values from a document onto its shipment",
	Long: `Copy extracted values from a document onto its shipment.

Examples:
  freightdocs autofill 9a2e...
  freightdocs autofill 9a2e... --fields gross_weight_kg,total_packages`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fieldsStr, _ := cmd.Flags().GetString("fields")
		shipmentID, _ := cmd.Flags().GetString("shipment")

		req := map[string]any{}
		if shipmentID != "" {
			req["shipment_id"] = shipmentID
		}
		if fields := splitList(fieldsStr); fields != nil {
			req["fields"] = fields
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := applyAutofill(cmd.Context(), client, args[0], req)
		if err != nil {
			return err
		}
		if len(res.UpdatedFields) == 0 {
			printWarning("No shipment fields changed")
			return nil
		}
		printSuccess("Updated %s on shipment %s", strings.Join(res.UpdatedFields, ", "), res.ShipmentID)
		return nil
	},
}

func init() {
	autofillCmd.Flags().String("fields", "", "comma-separated shipment fields to fill (default: all)")
	autofillCmd.Flags().String("shipment", "", "target shipment id (default: the document's shipment)")
}

func applyAutofill(ctx context.Context, c *apiClient, documentID string, req map[string]any) (autofillView, error) {
	resp, err := c.post(ctx, "/api/documents/"+url.PathEscape(documentID)+"/autofill", req)
	if err != nil {
		return autofillView{}, err
	}
	var res autofillView
	if err := decodeJSON(resp, &res); err != nil {
		return autofillView{}, err
	}
	return res, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API bearer tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a bearer token for a user",
	Long: `Issue a bearer token for a user. The token is printed once and only
its hash is stored.

Examples:
  freightdocs token create --user u-42 --role supplier`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		roleStr, _ := cmd.Flags().GetString("role")
		if userID == "" {
			return errors.New("--user is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		token, err := issueToken(cmd.Context(), store, userID, roleStr)
		if err != nil {
			return err
		}
		fmt.Println(token)
		printSuccess("Token issued for %s (%s). Export it as FREIGHTDOCS_TOKEN.", userID, roleStr)
		return nil
	},
}

func init() {
	tokenCreateCmd.Flags().String("user", "", "user id the token authenticates as")
	tokenCreateCmd.Flags().String("role", string(auth.RoleForwarder), "role: supplier, buyer, forwarder, driver or admin")
	tokenCmd.AddCommand(tokenCreateCmd)
}

type tokenStore interface {
	CreateAPIToken(ctx context.Context, t storage.APIToken) error
}

func issueToken(ctx context.Context, store tokenStore, userID, roleStr string) (string, error) {
	role, err := auth.ParseRole(roleStr)
	if err != nil {
		return "", err
	}
	token, err := auth.GenerateToken()
	if err != nil {
		return "", err
	}
	err = store.CreateAPIToken(ctx, storage.APIToken{
		TokenHash: auth.HashToken(token),
		UserID:    userID,
		Role:      string(role),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return token, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			src := ""
			if k.FromEnv {
				src = colorize(colorCyan, "  (from "+k.EnvVar+")")
			}
			fmt.Printf("  %s = %s%s\n", colorize(colorBold, k.Key), k.Value, src)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
