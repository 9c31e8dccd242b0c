package sail

import (
	"encoding/json"
	"fmt"
	"os"
)

// systemRuleMapping maps internal system-rule names to their public a!
// function names. The table is frozen per release; most entries are
// identity, the rest cover legacy internal spellings that predate the
// public names. LoadMapping can replace it from a JSON asset.
var systemRuleMapping = map[string]string{
	// Legacy internal spellings with distinct public names
	"qryEntity":              "queryEntity",
	"qryProcessAnalytics":    "queryProcessAnalytics",
	"qryRecordType":          "queryRecordType",
	"qryFilter":              "queryFilter",
	"qryLogicalExpression":   "queryLogicalExpression",
	"qrySelection":           "querySelection",
	"qryColumn":              "queryColumn",
	"qryAggregation":         "queryAggregation",
	"qryAggregationColumn":   "queryAggregationColumn",
	"wsHttpQuery":            "httpQuery",
	"wsHttpResponse":         "httpResponse",
	"wsHttpHeader":           "httpHeader",
	"dynLink":                "dynamicLink",
	"recLink":                "recordLink",
	"docDownloadLink":        "documentDownloadLink",
	"procStartLink":          "startProcessLink",
	"usrTaskLink":            "processTaskLink",
	"grpMembersField":        "pickerFieldGroups",
	"usrPickerField":         "pickerFieldUsers",
	"docPickerField":         "pickerFieldDocuments",
	"recPickerField":         "pickerFieldRecords",
	"customPickerField":      "pickerFieldCustom",
	"intFieldInternal":       "integerField",
	"fpFieldInternal":        "floatingPointField",
	"txtFieldInternal":       "textField",
	"paraFieldInternal":      "paragraphField",
	"boolFieldInternal":      "booleanField",
	"applyComponents":        "forEach",
	"loadVariables":          "localVariables",
	"withVariables":          "localVariables",
	"saveDataInto":           "save",
	"writeToDataStoreEntity": "writeToDataStoreEntity",

	// Interface components
	"textField":              "textField",
	"paragraphField":         "paragraphField",
	"integerField":           "integerField",
	"floatingPointField":     "floatingPointField",
	"dateField":              "dateField",
	"dateTimeField":          "dateTimeField",
	"timeField":              "timeField",
	"booleanField":           "booleanField",
	"dropdownField":          "dropdownField",
	"multipleDropdownField":  "multipleDropdownField",
	"radioButtonField":       "radioButtonField",
	"checkboxField":          "checkboxField",
	"checkboxFieldByIndex":   "checkboxFieldByIndex",
	"fileUploadField":        "fileUploadField",
	"signatureField":         "signatureField",
	"encryptedTextField":     "encryptedTextField",
	"richTextDisplayField":   "richTextDisplayField",
	"richTextItem":           "richTextItem",
	"richTextHeader":         "richTextHeader",
	"richTextBulletedList":   "richTextBulletedList",
	"richTextNumberedList":   "richTextNumberedList",
	"richTextListItem":       "richTextListItem",
	"richTextIcon":           "richTextIcon",
	"richTextImage":          "richTextImage",
	"buttonWidget":           "buttonWidget",
	"buttonLayout":           "buttonLayout",
	"buttonArrayLayout":      "buttonArrayLayout",
	"formLayout":             "formLayout",
	"headerContentLayout":    "headerContentLayout",
	"billboardLayout":        "billboardLayout",
	"paneLayout":             "paneLayout",
	"pane":                   "pane",
	"columnsLayout":          "columnsLayout",
	"columnLayout":           "columnLayout",
	"sectionLayout":          "sectionLayout",
	"boxLayout":              "boxLayout",
	"cardLayout":             "cardLayout",
	"cardChoiceField":        "cardChoiceField",
	"cardGroupLayout":        "cardGroupLayout",
	"sideBySideLayout":       "sideBySideLayout",
	"sideBySideItem":         "sideBySideItem",
	"wizardLayout":           "wizardLayout",
	"wizardStep":             "wizardStep",
	"gridField":              "gridField",
	"gridColumn":             "gridColumn",
	"gridLayout":             "gridLayout",
	"gridTextColumn":         "gridTextColumn",
	"gridImageColumn":        "gridImageColumn",
	"gridLinkColumn":         "gridLinkColumn",
	"gridRowLayout":          "gridRowLayout",
	"gridSelection":          "gridSelection",
	"imageField":             "imageField",
	"documentImage":          "documentImage",
	"userImage":              "userImage",
	"webImage":               "webImage",
	"videoField":             "videoField",
	"webContentField":        "webContentField",
	"linkField":              "linkField",
	"dynamicLink":            "dynamicLink",
	"recordLink":             "recordLink",
	"documentDownloadLink":   "documentDownloadLink",
	"newsEntryLink":          "newsEntryLink",
	"processTaskLink":        "processTaskLink",
	"reportLink":             "reportLink",
	"safeLink":               "safeLink",
	"startProcessLink":       "startProcessLink",
	"submitLink":             "submitLink",
	"userRecordLink":         "userRecordLink",
	"milestoneField":         "milestoneField",
	"progressBarField":       "progressBarField",
	"gaugeField":             "gaugeField",
	"gaugeIcon":              "gaugeIcon",
	"gaugeFraction":          "gaugeFraction",
	"gaugePercentage":        "gaugePercentage",
	"stampField":             "stampField",
	"tagField":               "tagField",
	"tagItem":                "tagItem",
	"pickerFieldUsers":       "pickerFieldUsers",
	"pickerFieldGroups":      "pickerFieldGroups",
	"pickerFieldUsersAndGroups": "pickerFieldUsersAndGroups",
	"pickerFieldRecords":     "pickerFieldRecords",
	"pickerFieldDocuments":   "pickerFieldDocuments",
	"pickerFieldFolders":     "pickerFieldFolders",
	"pickerFieldCustom":      "pickerFieldCustom",
	"barcodeField":           "barcodeField",
	"barChartField":          "barChartField",
	"lineChartField":         "lineChartField",
	"pieChartField":          "pieChartField",
	"columnChartField":       "columnChartField",
	"areaChartField":         "areaChartField",
	"scatterChartField":      "scatterChartField",
	"chartSeries":            "chartSeries",
	"chartReference":         "chartReference",
	"colorSchemeCustom":      "colorSchemeCustom",
	"eventHistoryListField":  "eventHistoryListField",
	"recordActionField":      "recordActionField",
	"recordActionItem":       "recordActionItem",
	"relatedRecordData":      "relatedRecordData",
	"timeDisplayField":       "timeDisplayField",
	"headingField":           "headingField",
	"horizontalLine":         "horizontalLine",

	// Data and query functions
	"queryEntity":            "queryEntity",
	"queryProcessAnalytics":  "queryProcessAnalytics",
	"queryRecordType":        "queryRecordType",
	"queryFilter":            "queryFilter",
	"queryLogicalExpression": "queryLogicalExpression",
	"querySelection":         "querySelection",
	"queryColumn":            "queryColumn",
	"queryAggregation":       "queryAggregation",
	"queryAggregationColumn": "queryAggregationColumn",
	"queryRecordByIdentifier": "queryRecordByIdentifier",
	"pagingInfo":             "pagingInfo",
	"sortInfo":               "sortInfo",
	"recordData":             "recordData",
	"recordFilterList":       "recordFilterList",
	"recordFilterListOption": "recordFilterListOption",
	"recordFilterDateRange":  "recordFilterDateRange",
	"recordGridField":        "recordGridField",
	"aggregationFields":      "aggregationFields",
	"grouping":               "grouping",
	"measure":                "measure",
	"dataSubset":             "dataSubset",
	"facet":                  "facet",
	"facetOption":            "facetOption",

	// Logic and flow
	"forEach":             "forEach",
	"localVariables":      "localVariables",
	"refreshVariable":     "refreshVariable",
	"save":                "save",
	"match":               "match",
	"isNullOrEmpty":       "isNullOrEmpty",
	"isNotNullOrEmpty":    "isNotNullOrEmpty",
	"defaultValue":        "defaultValue",
	"flatten":             "flatten",
	"update":              "update",
	"updateDictionary":    "updateDictionary",
	"urlForRecord":        "urlForRecord",
	"urlForSite":          "urlForSite",

	// Process and task functions
	"startProcess":           "startProcess",
	"startRuleTests":         "startRuleTests",
	"startRuleTestsAll":      "startRuleTestsAll",
	"processInfo":            "processInfo",
	"processTaskReport":      "processTaskReport",
	"userTaskReport":         "userTaskReport",
	"groupTaskReport":        "groupTaskReport",

	// Integration functions
	"httpQuery":              "httpQuery",
	"httpResponse":           "httpResponse",
	"httpHeader":             "httpHeader",
	"httpFormPart":           "httpFormPart",
	"httpAuthenticationBasic": "httpAuthenticationBasic",
	"jsonPath":               "jsonPath",
	"fromJson":               "fromJson",
	"toJson":                 "toJson",
	"scsField":               "scsField",
	"testConnectedSystem":    "testConnectedSystem",
	"integrationError":       "integrationError",
	"executeIntegration":     "executeIntegration",

	// Document functions
	"documentField":       "documentField",
	"documentViewerField": "documentViewerField",
	"exportDataStoreEntityToCsv":   "exportDataStoreEntityToCsv",
	"exportDataStoreEntityToExcel": "exportDataStoreEntityToExcel",
	"exportRecordTypeToCsv":        "exportRecordTypeToCsv",
	"exportRecordTypeToExcel":      "exportRecordTypeToExcel",

	// Security and people functions
	"groupMembers":      "groupMembers",
	"isUserMemberOfGroup": "isUserMemberOfGroup",
	"userDetails":       "userDetails",
	"usersByGroup":      "usersByGroup",

	// Deprecated display functions retained for old packages
	"applyComponentsLegacy": "forEach",
	"loadLegacy":            "localVariables",
	"withLegacy":            "localVariables",
	"saveLegacy":            "save",
}

// SystemRuleMapping returns a copy of the compiled-in mapping table.
func SystemRuleMapping() map[string]string {
	out := make(map[string]string, len(systemRuleMapping))
	for k, v := range systemRuleMapping {
		out[k] = v
	}
	return out
}

// LoadMapping reads a mapping table from a JSON asset, for releases that
// ship an updated table. An empty path returns the compiled-in table.
func LoadMapping(path string) (map[string]string, error) {
	if path == "" {
		return SystemRuleMapping(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping table: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse mapping table: %w", err)
	}
	return m, nil
}
