// Package identifier implements the 20-character Qirat account identifier:
// generation, decoding and validation. The identifier embeds the holder's
// country, date of birth (or founding date), gender or entity class, account
// type and a random collision-resistance suffix, plus a SHA-1 derived
// checksum over the date block.
//
// Layout (20 printable characters including four spaces):
//
//	CC AAA BBB### T#### ####
//	|  |   |      |     +-- 4 random digits
//	|  |   |      +-------- account-type hex digit + 4 random letters
//	|  |   +--------------- DOB block: 3 letters (base-26) + 3 digits
//	|  +------------------- checksum: first 3 hex chars of SHA-1(DOB block)
//	+---------------------- ISO country code
package identifier

import (
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Gender classifies the holder encoded in the DOB block.
type Gender string

const (
	GenderMale         Gender = "male"
	GenderFemale       Gender = "female"
	GenderOrganization Gender = "organization"
)

// AccountType is the single-hex-digit account classification.
type AccountType int

const (
	AccountIndividual       AccountType = 0x0
	AccountForProfit        AccountType = 0x1
	AccountNotForProfit     AccountType = 0x2
	AccountEducation        AccountType = 0x3
	AccountHealthcare       AccountType = 0x4
	AccountFinancial        AccountType = 0x5
	AccountGovTreasury      AccountType = 0x6
	AccountGovOther         AccountType = 0x7
	AccountIGO              AccountType = 0x8
	AccountDiplomatic       AccountType = 0x9
	AccountTrustEstate      AccountType = 0xA
	AccountReservedB        AccountType = 0xB
	AccountReservedC        AccountType = 0xC
	AccountReservedD        AccountType = 0xD
	AccountTemporarySpecial AccountType = 0xE
	AccountSystem           AccountType = 0xF
)

// Codec errors.
var (
	ErrInvalidCountry     = errors.New("invalid country code")
	ErrInvalidDOB         = errors.New("invalid date of birth")
	ErrInvalidGender      = errors.New("invalid gender")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrInvalidFormat      = errors.New("invalid identifier format")
	ErrInvalidChecksum    = errors.New("invalid identifier checksum")
	ErrInvalidDOBEncoding = errors.New("invalid DOB block encoding")
)

const (
	// Gender offsets applied to the day count before encoding.
	femaleOffset       = 500_000
	organizationOffset = 1_000_000

	// letterRadix is the base of the 3-letter prefix of the DOB block.
	letterRadix = 26
	// digitModulus is the range covered by the 3-digit suffix.
	digitModulus = 1000
)

// epoch is the earliest encodable date.
var epoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// maxDate is the latest encodable date (inclusive).
var maxDate = time.Date(4000, 1, 1, 0, 0, 0, 0, time.UTC)

var accountTypeNames = map[AccountType]string{
	AccountIndividual:       "Individual",
	AccountForProfit:        "For-profit",
	AccountNotForProfit:     "Not-for-profit",
	AccountEducation:        "Education",
	AccountHealthcare:       "Healthcare",
	AccountFinancial:        "Financial",
	AccountGovTreasury:      "Government Treasury",
	AccountGovOther:         "Government Other",
	AccountIGO:              "IGO",
	AccountDiplomatic:       "Diplomatic",
	AccountTrustEstate:      "Trust/Estate",
	AccountReservedB:        "Reserved",
	AccountReservedC:        "Reserved",
	AccountReservedD:        "Reserved",
	AccountTemporarySpecial: "Temporary/Special",
	AccountSystem:           "System",
}

// Name returns the human-readable account type name.
func (t AccountType) Name() string {
	name, ok := accountTypeNames[t]
	if !ok {
		return "Unknown"
	}
	return name
}

// Decoded holds the fields recovered from an identifier.
type Decoded struct {
	Country         string
	Checksum        string
	DOB             time.Time
	Gender          Gender
	IsOrganization  bool
	AccountType     AccountType
	AccountTypeName string
	UniqueSuffix    string
}

// Generate creates a new identifier for the given profile. The random
// suffix (4 letters + 4 digits) makes same-profile collisions negligible.
func Generate(country string, dob time.Time, gender Gender, accountType AccountType) (string, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if !isCountry(country) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCountry, country)
	}

	dob = dob.UTC().Truncate(24 * time.Hour)
	if dob.Before(epoch) || dob.After(maxDate) {
		return "", fmt.Errorf("%w: %s out of range", ErrInvalidDOB, dob.Format("2006-01-02"))
	}

	offset, err := genderOffset(gender)
	if err != nil {
		return "", err
	}

	if accountType < AccountIndividual || accountType > AccountSystem {
		return "", fmt.Errorf("%w: %d", ErrInvalidAccountType, accountType)
	}

	dobBlock := encodeDOBBlock(daysSinceEpoch(dob) + offset)
	checksum := checksumOf(dobBlock)

	suffix, err := randomLetters(4)
	if err != nil {
		return "", err
	}
	digits, err := randomDigits(4)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s %s %s %X%s %s", country, checksum, dobBlock, accountType, suffix, digits), nil
}

// Decode parses an identifier and recovers its embedded fields. The
// checksum is verified before any field is interpreted.
func Decode(id string) (*Decoded, error) {
	blocks, err := splitBlocks(id)
	if err != nil {
		return nil, err
	}

	country, checksum, dobBlock, typeBlock, digits := blocks[0], blocks[1], blocks[2], blocks[3], blocks[4]

	if !isCountry(country) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCountry, country)
	}
	if checksumOf(dobBlock) != checksum {
		return nil, ErrInvalidChecksum
	}

	value, err := decodeDOBBlock(dobBlock)
	if err != nil {
		return nil, err
	}

	gender := GenderMale
	switch {
	case value >= organizationOffset:
		gender = GenderOrganization
		value -= organizationOffset
	case value >= femaleOffset:
		gender = GenderFemale
		value -= femaleOffset
	}

	dob := epoch.AddDate(0, 0, value)
	if dob.After(maxDate) {
		return nil, fmt.Errorf("%w: encoded date %s out of range", ErrInvalidDOB, dob.Format("2006-01-02"))
	}

	accountType, err := parseAccountType(typeBlock[0])
	if err != nil {
		return nil, err
	}

	return &Decoded{
		Country:         country,
		Checksum:        checksum,
		DOB:             dob,
		Gender:          gender,
		IsOrganization:  gender == GenderOrganization,
		AccountType:     accountType,
		AccountTypeName: accountType.Name(),
		UniqueSuffix:    typeBlock[1:] + digits,
	}, nil
}

// Validate reports whether the identifier has the correct shape, a matching
// checksum and a decodable in-range date block.
func Validate(id string) bool {
	_, err := Decode(id)
	return err == nil
}

// splitBlocks checks the overall shape: 20 characters, five space-separated
// blocks of lengths 2, 3, 6, 5 and 4 with the right character classes.
func splitBlocks(id string) ([]string, error) {
	if len(id) != 20 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidFormat, len(id))
	}

	blocks := strings.Split(id, " ")
	if len(blocks) != 5 {
		return nil, fmt.Errorf("%w: expected 5 blocks, got %d", ErrInvalidFormat, len(blocks))
	}

	widths := []int{2, 3, 6, 5, 4}
	for i, block := range blocks {
		if len(block) != widths[i] {
			return nil, fmt.Errorf("%w: block %d has length %d, want %d", ErrInvalidFormat, i, len(block), widths[i])
		}
	}

	if !isUpperHex(blocks[1]) {
		return nil, fmt.Errorf("%w: checksum block", ErrInvalidFormat)
	}
	if !isUpperLetters(blocks[2][:3]) || !isDigits(blocks[2][3:]) {
		return nil, fmt.Errorf("%w: DOB block", ErrInvalidFormat)
	}
	if !isUpperLetters(blocks[3][1:]) {
		return nil, fmt.Errorf("%w: type block", ErrInvalidFormat)
	}
	if !isDigits(blocks[4]) {
		return nil, fmt.Errorf("%w: digit block", ErrInvalidFormat)
	}

	return blocks, nil
}

func genderOffset(gender Gender) (int, error) {
	switch gender {
	case GenderMale:
		return 0, nil
	case GenderFemale:
		return femaleOffset, nil
	case GenderOrganization:
		return organizationOffset, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidGender, gender)
	}
}

func daysSinceEpoch(dob time.Time) int {
	return int(dob.Sub(epoch).Hours() / 24)
}

// encodeDOBBlock encodes value as 3 base-26 letters (value/1000) followed
// by 3 decimal digits (value%1000).
func encodeDOBBlock(value int) string {
	letters := value / digitModulus
	digits := value % digitModulus

	buf := [3]byte{}
	for i := 2; i >= 0; i-- {
		buf[i] = byte('A' + letters%letterRadix)
		letters /= letterRadix
	}

	return fmt.Sprintf("%s%03d", buf[:], digits)
}

func decodeDOBBlock(block string) (int, error) {
	letters := 0
	for i := 0; i < 3; i++ {
		c := block[i]
		if c < 'A' || c > 'Z' {
			return 0, ErrInvalidDOBEncoding
		}
		letters = letters*letterRadix + int(c-'A')
	}

	digits := 0
	for i := 3; i < 6; i++ {
		c := block[i]
		if c < '0' || c > '9' {
			return 0, ErrInvalidDOBEncoding
		}
		digits = digits*10 + int(c-'0')
	}

	return letters*digitModulus + digits, nil
}

// checksumOf returns the first 3 hex characters of SHA-1 over the DOB
// block, uppercased.
func checksumOf(dobBlock string) string {
	sum := sha1.Sum([]byte(dobBlock))
	return strings.ToUpper(fmt.Sprintf("%x", sum)[:3])
}

func parseAccountType(c byte) (AccountType, error) {
	switch {
	case c >= '0' && c <= '9':
		return AccountType(c - '0'), nil
	case c >= 'A' && c <= 'F':
		return AccountType(c-'A') + 0xA, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidAccountType, c)
	}
}

func isCountry(s string) bool {
	return len(s) == 2 && isUpperLetters(s)
}

func isUpperLetters(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isUpperHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

func randomLetters(n int) (string, error) {
	return randomString(n, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
}

func randomDigits(n int) (string, error) {
	return randomString(n, "0123456789")
}

func randomString(n int, alphabet string) (string, error) {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}
