package model

const XSDDateTimeFormat = "2006-01-02T15:04:05Z07:00"
const YearMonthDayFormat = "2006-01-02"
