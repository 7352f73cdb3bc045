package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qirat-network/qiratd/internal/identifier"
)

var (
	idgenCountry string
	idgenDOB     string
	idgenGender  string
	idgenType    int
	idgenDecode  string
)

var idgenCmd = &cobra.Command{
	Use:   "idgen",
	Short: "Generate or decode Qirat account identifiers",
	Long: `Generate a 20-character Qirat account identifier from profile data, or
decode an existing identifier back into its fields with --decode.`,
	RunE: runIdgen,
}

func init() {
	rootCmd.AddCommand(idgenCmd)

	idgenCmd.Flags().StringVar(&idgenCountry, "country", "", "ISO 3166-1 alpha-2 country code")
	idgenCmd.Flags().StringVar(&idgenDOB, "dob", "", "date of birth or founding date (YYYY-MM-DD)")
	idgenCmd.Flags().StringVar(&idgenGender, "gender", string(identifier.GenderMale), "male, female or organization")
	idgenCmd.Flags().IntVar(&idgenType, "type", int(identifier.AccountIndividual), "account type digit (0-15)")
	idgenCmd.Flags().StringVar(&idgenDecode, "decode", "", "identifier to decode instead of generating")
}

func runIdgen(cmd *cobra.Command, args []string) error {
	if idgenDecode != "" {
		decoded, err := identifier.Decode(idgenDecode)
		if err != nil {
			return err
		}
		fmt.Printf("Country:      %s\n", decoded.Country)
		fmt.Printf("Date:         %s\n", decoded.DOB.Format("2006-01-02"))
		fmt.Printf("Gender:       %s\n", decoded.Gender)
		fmt.Printf("Account type: %s\n", decoded.AccountTypeName)
		return nil
	}

	if idgenCountry == "" || idgenDOB == "" {
		return fmt.Errorf("--country and --dob are required")
	}
	dob, err := time.Parse("2006-01-02", idgenDOB)
	if err != nil {
		return fmt.Errorf("invalid --dob: %w", err)
	}

	id, err := identifier.Generate(idgenCountry,
		dob,
		identifier.Gender(strings.ToLower(idgenGender)),
		identifier.AccountType(idgenType))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
